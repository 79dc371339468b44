package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/metrics"
)

const (
	DefaultBatchSize       = 20
	DefaultMaxRetries      = 5
	DefaultCallTimeout     = 2 * time.Minute
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
)

// Batcher embeds ordered texts through an ai.Embedder.
// It is safe for concurrent use; the rate limiter is the only state shared
// between calls.
type Batcher struct {
	embedder        ai.Embedder
	batchSize       int
	maxRetries      int
	callTimeout     time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
	limiter         *rate.Limiter
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// Option configures a Batcher.
type Option func(*Batcher) error

// WithBatchSize sets the maximum number of texts per provider call.
func WithBatchSize(size int) Option {
	return func(b *Batcher) error {
		if size <= 0 {
			return ErrInvalidBatchSize
		}
		b.batchSize = size
		return nil
	}
}

// WithMaxRetries sets how many times a failed call is retried. Zero disables
// retries.
func WithMaxRetries(n int) Option {
	return func(b *Batcher) error {
		if n < 0 {
			n = 0
		}
		b.maxRetries = n
		return nil
	}
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Batcher) error {
		if d <= 0 {
			return ErrInvalidCallTimeout
		}
		b.callTimeout = d
		return nil
	}
}

// WithBackoff sets the first and largest delay between attempts.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(b *Batcher) error {
		if initial <= 0 || ceiling < initial {
			return ErrInvalidBackoff
		}
		b.initialInterval = initial
		b.maxInterval = ceiling
		return nil
	}
}

// WithMaxElapsedTime caps the total time spent retrying one call. Zero
// means no cap beyond MaxRetries.
func WithMaxElapsedTime(d time.Duration) Option {
	return func(b *Batcher) error {
		b.maxElapsed = max(d, 0)
		return nil
	}
}

// WithRateLimit throttles provider calls to rps with the given burst.
// An rps of zero or less disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *Batcher) error {
		if rps <= 0 {
			b.limiter = nil
			return nil
		}
		if burst <= 0 {
			return ErrInvalidRateLimit
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithMetrics records provider calls and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Batcher) error {
		b.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger for the batcher.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) error {
		b.logger = logger
		return nil
	}
}

// NewBatcher creates a Batcher around embedder.
func NewBatcher(embedder ai.Embedder, opts ...Option) (*Batcher, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	b := &Batcher{
		embedder:        embedder,
		batchSize:       DefaultBatchSize,
		maxRetries:      DefaultMaxRetries,
		callTimeout:     DefaultCallTimeout,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		maxElapsed:      backoff.DefaultMaxElapsedTime,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "embedding-batcher", "model", embedder.Model())

	return b, nil
}

// BatchSize returns the maximum number of texts sent per provider call.
func (b *Batcher) BatchSize() int {
	return b.batchSize
}

// Model returns the embedding model name.
func (b *Batcher) Model() string {
	return b.embedder.Model()
}

// EmbedBatch returns one unit vector per text, in input order. Texts are
// sent in provider calls of at most BatchSize. Any unrecoverable failure
// aborts the whole call and is returned as a *core.Error.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	dims := 0

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))

		vectors, err := b.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		if dims, err = checkVectors(vectors, end-start, dims); err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}

		for _, v := range vectors {
			out = append(out, NormalizeVector(v))
		}
	}

	b.metrics.RecordEmbeddedTexts(len(out))
	return out, nil
}

// EmbedQuery embeds a single text as a one-item batch.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (b *Batcher) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	operation := func() ([][]float32, error) {
		attempt++
		return b.call(ctx, texts)
	}

	notify := func(err error, next time.Duration) {
		kind := core.KindOf(err)
		b.metrics.RecordEmbeddingRetry(string(kind))
		b.logger.Warn("embedding call failed, will retry",
			"attempt", attempt,
			"max_retries", b.maxRetries,
			"kind", kind,
			"backoff", next,
			"error", err)
	}

	vectors, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff(b.initialInterval, b.maxInterval)),
		backoff.WithMaxTries(uint(b.maxRetries+1)),
		backoff.WithMaxElapsedTime(b.maxElapsed),
		backoff.WithNotify(notify),
	)
	if err != nil {
		err = finalError(ctx, err)
		b.logger.Error("embedding call failed", "attempts", attempt, "kind", core.KindOf(err), "error", err)
		return nil, err
	}
	if attempt > 1 {
		b.logger.Debug("embedding call succeeded after retry", "attempts", attempt)
	}
	return vectors, nil
}

// call makes one throttled provider call under the per-call timeout.
func (b *Batcher) call(ctx context.Context, texts []string) ([][]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(core.NewError(core.KindTimeout, "waiting for rate limiter", err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	started := time.Now()
	result := b.embedder.Embed(callCtx, texts)
	elapsed := time.Since(started).Seconds()

	switch r := result.(type) {
	case ai.Success:
		b.metrics.RecordEmbeddingCall("success", elapsed)
		return r.Vectors, nil
	case ai.RateLimited:
		b.metrics.RecordEmbeddingCall("rate_limited", elapsed)
	default:
		b.metrics.RecordEmbeddingCall("failure", elapsed)
	}
	return nil, resultError(result)
}
