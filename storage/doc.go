// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage provides the storage abstraction layer for ragcore.
//
// This package defines repository interfaces that decouple storage implementation
// from the ingestion and retrieval logic. Different backends (BadgerDB,
// chromem-go, in-memory) can be used interchangeably.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return concrete types that
// satisfy these interfaces; consumers depend only on the interfaces:
//
//	var vectors storage.VectorRepository = badger.NewVectorRepository(backend)
//
// # Architecture
//
//   - CacheRepository: one web page cache entry per URL
//   - VectorRepository: tenant-scoped chunk vectors and similarity search
//   - SessionRepository: ingestion sessions with compare-and-swap updates
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repos.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Serialization
//
// Records are encoded with the helpers in serialization.go. Chunk vectors
// are stored as packed little-endian float32 values after a JSON header so
// that large embeddings stay compact.
package storage
