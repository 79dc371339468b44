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

package reembed

import (
	"context"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
)

const (
	// DefaultBatchSize is the default number of chunks handed to fn at once.
	DefaultBatchSize = 100
)

// Locker serializes writers of one content key.
// *ingestion.Pipeline satisfies it.
type Locker interface {
	LockContent(key core.ContentKey) (unlock func())
}

// ChunkIterator walks the stored chunks of a project one content key at a time.
type ChunkIterator struct {
	repo      storage.VectorRepository
	batchSize int
	locker    Locker
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks per batch; values <= 0 select DefaultBatchSize
func NewChunkIterator(repo storage.VectorRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// Count returns the number of chunks stored in the scope's project.
func (it *ChunkIterator) Count(ctx context.Context, scope core.TenantScope) (int, error) {
	total := 0
	err := it.walk(ctx, scope, false, func(_ core.ContentKey, chunks []core.Chunk) error {
		total += len(chunks)
		return nil
	})
	return total, err
}

// ForEach calls fn with batches of at most batchSize chunks, in content key
// then index order. A batch never spans two content keys.
// Iteration stops on the first error from fn. Context cancellation is
// checked between batches. With a Locker, a key stays locked from reading
// its chunks until fn has seen its last batch.
func (it *ChunkIterator) ForEach(ctx context.Context, scope core.TenantScope, fn func(core.ContentKey, []core.Chunk) error) error {
	return it.walk(ctx, scope, true, func(key core.ContentKey, chunks []core.Chunk) error {
		for i := 0; i < len(chunks); i += it.batchSize {
			end := min(i+it.batchSize, len(chunks))
			if err := fn(key, chunks[i:end]); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (it *ChunkIterator) walk(ctx context.Context, scope core.TenantScope, lock bool, fn func(core.ContentKey, []core.Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys, err := it.repo.ContentKeys(ctx, scope)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := it.visit(ctx, scope, key, lock, fn); err != nil {
			return err
		}
	}
	return nil
}

func (it *ChunkIterator) visit(ctx context.Context, scope core.TenantScope, key core.ContentKey, lock bool, fn func(core.ContentKey, []core.Chunk) error) error {
	if lock && it.locker != nil {
		unlock := it.locker.LockContent(key)
		defer unlock()
	}

	chunks, err := it.repo.Chunks(ctx, scope, key)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return fn(key, chunks)
}
