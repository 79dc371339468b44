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

package openai

import (
	"log/slog"

	"github.com/poiesic/ragcore/ai"
)

// Provider serves embeddings and, when a generator model is configured,
// grounded answers from one OpenAI-compatible endpoint.
type Provider struct {
	config    *ai.Config
	embedder  *Embedder
	generator *AnswerGenerator
	logger    *slog.Logger
}

// NewProvider validates config and builds the clients it names.
func NewProvider(config *ai.Config, opts ...EmbedderOption) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config, opts...)
	if err != nil {
		return nil, err
	}

	var generator *AnswerGenerator
	if config.GeneratorModel != "" {
		if generator, err = newAnswerGenerator(config); err != nil {
			return nil, err
		}
	}

	p := &Provider{
		config:    config,
		embedder:  embedder,
		generator: generator,
		logger:    slog.Default().With("component", "openai-provider"),
	}
	p.logger.Debug("provider ready", "host", config.EmbeddingHost,
		"embedding_model", config.EmbeddingModel, "generator_model", config.GeneratorModel)
	return p, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// AnswerGenerator returns nil when no generator model is configured.
func (p *Provider) AnswerGenerator() ai.AnswerGenerator {
	if p.generator == nil {
		return nil
	}
	return p.generator
}

// Close is a no-op; the langchaingo clients hold no resources.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider")
	return nil
}
