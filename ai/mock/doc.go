// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder,
// ai.AnswerGenerator and ai.Provider for use in unit tests. The mocks allow
// tests to run without external AI service dependencies and enable
// controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Deterministic vectors
//	embedder := mock.NewMockEmbedder()
//
//	// Scripted provider outcomes, consumed one per call
//	embedder.Script(
//	    ai.RateLimited{RetryAfter: 10 * time.Millisecond},
//	    ai.Failure{Kind: core.KindConnection, Message: "reset"},
//	)
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockAnswerGenerator: Echoes the query with fixed token usage
//   - MockProvider: Aggregates mock embedder and generator
package mock
