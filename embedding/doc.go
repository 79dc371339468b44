// Package embedding turns ordered chunk texts into ordered, unit-length
// vectors through an ai.Embedder.
//
// The Batcher splits input into provider calls of at most BatchSize texts,
// throttles calls with a token bucket, and retries transient failures with
// exponential backoff and jitter:
//
//   - ai.RateLimited is retried, waiting RetryAfter when the provider gave one
//   - ai.Failure of kind connection or timeout is retried
//   - every other failure kind is returned immediately
//
// Output order and length always equal input order and length. A batch whose
// vectors disagree on dimensionality is rejected.
//
// Basic usage:
//
//	b, err := embedding.NewBatcher(provider.Embedder(),
//	    embedding.WithBatchSize(20),
//	    embedding.WithMaxRetries(5),
//	)
//	vectors, err := b.EmbedBatch(ctx, texts)
package embedding
