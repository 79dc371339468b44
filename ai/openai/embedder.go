package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// EmbedderOption configures an Embedder.
type EmbedderOption func(*embedderOptions)

type embedderOptions struct {
	httpClient *http.Client
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) EmbedderOption {
	return func(o *embedderOptions) {
		o.httpClient = client
	}
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config, opts ...EmbedderOption) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options := &embedderOptions{}
	for _, opt := range opts {
		opt(options)
	}

	clientOpts := []openai.Option{
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token()),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	}
	if config.EmbeddingDimensions > 0 {
		clientOpts = append(clientOpts, openai.WithEmbeddingDimensions(config.EmbeddingDimensions))
	}
	if options.httpClient != nil {
		clientOpts = append(clientOpts, openai.WithHTTPClient(options.httpClient))
	}

	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, core.Errorf(core.KindConfiguration, "create embedding client: %w", err)
	}

	// Batching happens upstream, so each Embed call is one provider request.
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, core.Errorf(core.KindConfiguration, "create embedder: %w", err)
	}

	return &Embedder{
		embedder: embedder,
		model:    config.EmbeddingModel,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config, opts ...EmbedderOption) (ai.Embedder, error) {
	return newEmbedder(config, opts...)
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string {
	return e.model
}

// Embed generates vector embeddings for a batch of texts.
func (e *Embedder) Embed(ctx context.Context, texts []string) ai.Result {
	e.logger.Debug("generating embeddings", "count", len(texts))

	if len(texts) == 0 {
		return ai.Success{Vectors: [][]float32{}}
	}

	// langchaingo rewrites newlines in place.
	input := make([]string, len(texts))
	copy(input, texts)

	vectors, err := e.embedder.EmbedDocuments(ctx, input)
	if err != nil {
		// The client replaces context errors with plain strings.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		result := classify(err)
		e.logger.Warn("embedding call failed", "count", len(texts), "result", fmt.Sprintf("%T", result), "err", err)
		return result
	}

	return ai.Success{Vectors: vectors}
}
