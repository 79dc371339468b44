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


// Package retrieval answers natural-language queries against ingested content.
//
// An Engine embeds the query as a single-item batch, searches the vector
// store within the caller's tenant scope, and assembles the ranked chunks
// into a numbered context block with one citation per chunk. When an answer
// generator is configured the context is handed to it and its answer and
// usage are passed through unchanged.
//
// Every stage can be observed through a Monitor.
package retrieval
