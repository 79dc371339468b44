package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/metrics"
	"github.com/poiesic/ragcore/storage"
)

// DefaultTopK is used when a request leaves TopK at zero.
const DefaultTopK = 5

// QueryEmbedder turns query text into a unit vector.
// *embedding.Batcher satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// QueryRequest is one retrieval query.
type QueryRequest struct {
	Text      string `json:"query_text"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id,omitempty"`

	// TopK is the maximum number of chunks returned. Zero selects the
	// engine default.
	TopK int `json:"top_k"`
}

// Scope returns the tenant scope the request is bounded by.
func (r QueryRequest) Scope() core.TenantScope {
	return core.TenantScope{ProjectID: r.ProjectID, UserID: r.UserID}
}

// Engine answers queries against the vector store.
type Engine struct {
	vectors    storage.VectorRepository
	embedder   QueryEmbedder
	generator  ai.AnswerGenerator
	defaultTop int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithAnswerGenerator hands the assembled context to g.
func WithAnswerGenerator(g ai.AnswerGenerator) Option {
	return func(e *Engine) error {
		e.generator = g
		return nil
	}
}

// WithDefaultTopK sets the limit used when a request has TopK zero.
// Default is DefaultTopK.
func WithDefaultTopK(k int) Option {
	return func(e *Engine) error {
		if k <= 0 {
			return ErrInvalidDefaultTopK
		}
		e.defaultTop = k
		return nil
	}
}

// WithMetrics records query outcomes and latency in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a new retrieval engine.
func NewEngine(vectors storage.VectorRepository, embedder QueryEmbedder, opts ...Option) (*Engine, error) {
	if vectors == nil {
		return nil, ErrVectorRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		vectors:    vectors,
		embedder:   embedder,
		defaultTop: DefaultTopK,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "retrieval")

	return e, nil
}

// Query returns the chunks most similar to req.Text within req's scope,
// the numbered context built from them and, when a generator is configured,
// its answer.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*core.QueryResult, error) {
	return e.QueryWithMonitor(ctx, req, nil)
}

// QueryWithMonitor is Query with callbacks at each stage.
func (e *Engine) QueryWithMonitor(ctx context.Context, req QueryRequest, monitor Monitor) (*core.QueryResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	started := time.Now()
	result, err := e.query(ctx, req, monitor)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.metrics.RecordQuery(outcome, time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	monitor.Finish(result)
	return result, nil
}

func (e *Engine) query(ctx context.Context, req QueryRequest, monitor Monitor) (*core.QueryResult, error) {
	topK, err := e.validate(&req)
	if err != nil {
		return nil, err
	}
	monitor.Start(req)

	scope := req.Scope()
	result := &core.QueryResult{
		Query:     req.Text,
		Scope:     scope,
		Results:   []core.RankedChunk{},
		Citations: []core.Citation{},
	}

	// 1. Content currently associated with the project
	keys, err := e.vectors.ContentKeys(ctx, scope)
	if err != nil {
		e.logger.Error("error listing content keys", "project", scope.ProjectID, "err", err)
		return nil, err
	}
	monitor.AfterCandidates(keys)
	if len(keys) == 0 {
		e.logger.Debug("project has no content", "project", scope.ProjectID)
		return result, nil
	}

	// 2. Embed the query
	vector, err := e.embedder.EmbedQuery(ctx, req.Text)
	if err != nil {
		e.logger.Error("error generating embedding for query", "project", scope.ProjectID, "err", err)
		return nil, err
	}
	monitor.AfterEmbedding(vector)

	// 3. Scoped nearest-neighbour search
	ranked, err := e.vectors.Search(ctx, vector, keys, topK, scope)
	if err != nil {
		e.logger.Error("error searching vectors", "project", scope.ProjectID, "err", err)
		return nil, err
	}
	monitor.AfterSearch(ranked)
	if len(ranked) == 0 {
		return result, nil
	}

	// 4. Numbered context
	result.Results = ranked
	result.Context, result.Citations = assembleContext(ranked)

	// 5. Optional answer
	if e.generator != nil {
		answer, err := e.generator.GenerateAnswer(ctx, ai.AnswerRequest{
			Query:     req.Text,
			Context:   result.Context,
			Citations: result.Citations,
		})
		if err != nil {
			e.logger.Error("error generating answer", "project", scope.ProjectID, "err", err)
			return nil, fmt.Errorf("generate answer: %w", err)
		}
		monitor.AfterAnswer(answer)
		if answer != nil {
			result.Answer = answer.Text
			result.Usage = answer.Usage
		}
	}

	e.logger.Debug("query answered", "project", scope.ProjectID, "results", len(ranked))
	return result, nil
}

// validate checks req and returns the effective result limit.
func (e *Engine) validate(req *QueryRequest) (int, error) {
	if err := core.ValidateScope(req.Scope()); err != nil {
		return 0, err
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return 0, core.NewError(core.KindValidation, core.ErrEmptyQuery.Error(), core.ErrEmptyQuery)
	}
	switch {
	case req.TopK < 0:
		return 0, core.Errorf(core.KindValidation, "%w: %d", core.ErrInvalidTopK, req.TopK)
	case req.TopK == 0:
		return e.defaultTop, nil
	default:
		return req.TopK, nil
	}
}

// assembleContext renders ranked chunks as numbered blocks, best first:
//
//	[1] https://example.com/page
//	chunk text
//
// Citation n refers to block [n].
func assembleContext(ranked []core.RankedChunk) (string, []core.Citation) {
	var b strings.Builder
	citations := make([]core.Citation, len(ranked))
	for i, r := range ranked {
		n := i + 1
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", n, r.Chunk.SourceURL, r.Chunk.Text)
		citations[i] = core.Citation{
			Number:    n,
			SourceURL: r.Chunk.SourceURL,
			Key:       r.Chunk.ContentKey,
			Index:     r.Chunk.Index,
			Score:     r.Score,
		}
	}
	return b.String(), citations
}
