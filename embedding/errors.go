package embedding

import "errors"

var (
	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("batch size must be greater than zero")

	// ErrInvalidCallTimeout is returned when the per-call timeout is not positive.
	ErrInvalidCallTimeout = errors.New("call timeout must be greater than zero")

	// ErrInvalidBackoff is returned when backoff intervals are not positive
	// or the maximum is below the initial interval.
	ErrInvalidBackoff = errors.New("backoff intervals must be positive and max must not be below initial")

	// ErrInvalidRateLimit is returned when the burst is not positive while a
	// rate is set.
	ErrInvalidRateLimit = errors.New("rate limit burst must be greater than zero")

	// ErrLengthMismatch is returned when the provider returns a different
	// number of vectors than texts.
	ErrLengthMismatch = errors.New("provider returned wrong number of vectors")

	// ErrDimensionMismatch is returned when vectors in one batch disagree
	// on dimensionality.
	ErrDimensionMismatch = errors.New("vectors have inconsistent dimensions")

	// ErrEmptyVector is returned when the provider returns a zero-length vector.
	ErrEmptyVector = errors.New("provider returned an empty vector")
)
