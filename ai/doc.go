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


// Package ai provides abstractions for the AI services used by ragcore.
//
// # Interfaces
//
//   - Embedder: turns a batch of texts into vectors with one provider call
//   - AnswerGenerator: drafts an answer from retrieved context
//   - Provider: aggregates both for lifecycle management
//
// # Embedding Results
//
// Embedder.Embed never returns a raw error. Every call produces exactly one
// of three tagged results so callers can decide how to react without string
// matching:
//
//	switch r := embedder.Embed(ctx, texts).(type) {
//	case ai.Success:
//	    use(r.Vectors)
//	case ai.RateLimited:
//	    wait(r.RetryAfter)
//	case ai.Failure:
//	    if r.Kind.Retryable() { ... }
//	}
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs via langchaingo
//   - ai/mock: scripted test doubles
//
// Public constructors in ai/openai return interface types. Test constructors
// in ai/mock return concrete types so tests can inspect call counts and
// inject behavior.
package ai
