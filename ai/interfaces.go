package ai

import (
	"context"

	"github.com/poiesic/ragcore/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// Embed generates one vector per input text in a single provider call.
	// The outcome is one of Success, RateLimited or Failure; transport and
	// provider errors are classified rather than returned raw.
	Embed(ctx context.Context, texts []string) Result

	// Model returns the embedding model identifier.
	Model() string
}

// AnswerRequest is the input to an answer generator.
type AnswerRequest struct {
	Query     string
	Context   string
	Citations []core.Citation
}

// Answer is the generated text plus whatever usage the provider reported.
type Answer struct {
	Text  string
	Usage *core.Usage
}

// AnswerGenerator drafts an answer from retrieved context.
// Implementations must be thread-safe for concurrent use.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, req AnswerRequest) (*Answer, error)
}

// Provider aggregates AI services for convenient initialization and lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// AnswerGenerator returns the answer generation service, or nil when
	// no generator model is configured.
	AnswerGenerator() AnswerGenerator

	// Close releases resources held by the provider and its services.
	Close() error
}
