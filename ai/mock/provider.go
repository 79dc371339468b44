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

package mock

import (
	"sync/atomic"

	"github.com/poiesic/ragcore/ai"
)

// MockProvider bundles a MockEmbedder and an optional MockAnswerGenerator
// behind ai.Provider.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockAnswerGenerator
	closed    atomic.Bool
}

var _ ai.Provider = (*MockProvider)(nil)

// NewMockProvider returns a provider with a default embedder and generator.
func NewMockProvider() *MockProvider {
	return NewMockProviderWithServices(NewMockEmbedder(), NewMockAnswerGenerator())
}

// NewMockProviderWithServices wires the given doubles. A nil generator
// disables answer generation.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockAnswerGenerator) *MockProvider {
	return &MockProvider{embedder: embedder, generator: generator}
}

func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *MockProvider) AnswerGenerator() ai.AnswerGenerator {
	if p.generator == nil {
		return nil
	}
	return p.generator
}

func (p *MockProvider) Close() error {
	p.closed.Store(true)
	return nil
}

// Embeddings exposes the embedder double for assertions.
func (p *MockProvider) Embeddings() *MockEmbedder {
	return p.embedder
}

// Answers exposes the generator double, or nil.
func (p *MockProvider) Answers() *MockAnswerGenerator {
	return p.generator
}

// Closed reports whether Close was called.
func (p *MockProvider) Closed() bool {
	return p.closed.Load()
}
