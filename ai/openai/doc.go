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


// Package openai talks to OpenAI-compatible endpoints (OpenAI, Ollama,
// vLLM, LocalAI) through langchaingo.
//
// Embedding calls never return a Go error; failures come back as the
// ai.Result variants so the embedding batcher can decide whether to retry.
// Rate limit responses become ai.RateLimited without a RetryAfter hint, so
// the batcher falls back to its own backoff.
//
//	provider, err := openai.NewProvider(ai.NewConfig(
//	    ai.WithHost("http://localhost:11434/v1"),
//	    ai.WithEmbeddingModel("nomic-embed-text"),
//	    ai.WithGeneratorModel("llama3.2"),
//	))
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	switch r := provider.Embedder().Embed(ctx, chunks).(type) {
//	case ai.Success:
//	    store(r.Vectors)
//	case ai.RateLimited:
//	    log.Print(r.Message)
//	}
package openai
