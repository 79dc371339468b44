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
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// AnswerGenerator implements ai.AnswerGenerator using OpenAI-compatible chat APIs.
type AnswerGenerator struct {
	client llms.Model
	logger *slog.Logger
}

var _ ai.AnswerGenerator = (*AnswerGenerator)(nil)

// newAnswerGenerator is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newAnswerGenerator(config *ai.Config) (*AnswerGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.GeneratorModel == "" {
		return nil, core.Errorf(core.KindConfiguration, "ai config: GeneratorModel is required for answer generation")
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.Token()),
		openai.WithModel(config.GeneratorModel),
	)
	if err != nil {
		return nil, core.Errorf(core.KindConfiguration, "create generator client: %w", err)
	}

	return &AnswerGenerator{
		client: client,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewAnswerGenerator creates a new answer generator using the provided configuration.
//
// Returns ai.AnswerGenerator interface to enforce abstraction.
func NewAnswerGenerator(config *ai.Config) (ai.AnswerGenerator, error) {
	return newAnswerGenerator(config)
}

// GenerateAnswer drafts an answer grounded in the supplied context and
// passes through the token usage reported by the provider.
func (g *AnswerGenerator) GenerateAnswer(ctx context.Context, req ai.AnswerRequest) (*ai.Answer, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, answerSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildAnswerPrompt(req.Query, req.Context, req.Citations)),
	}

	response, err := g.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		g.logger.Error("failed to generate answer", "err", err)
		return nil, classifyError(err)
	}

	if len(response.Choices) < 1 {
		g.logger.Debug("no choices returned from model")
		return &ai.Answer{}, nil
	}

	choice := response.Choices[0]
	answer := &ai.Answer{Text: strings.TrimSpace(choice.Content)}
	if choice.GenerationInfo != nil {
		answer.Usage = &core.Usage{
			PromptTokens:     intFromInfo(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: intFromInfo(choice.GenerationInfo, "CompletionTokens"),
			TotalTokens:      intFromInfo(choice.GenerationInfo, "TotalTokens"),
		}
	}

	g.logger.Debug("generated answer", "length", len(answer.Text))
	return answer, nil
}
