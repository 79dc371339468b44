package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
)

// MockAnswerGenerator is a test double for ai.AnswerGenerator.
type MockAnswerGenerator struct {
	// GenerateFunc is called by GenerateAnswer if set.
	// If nil, echoes the query and citation count with fixed usage.
	GenerateFunc func(ctx context.Context, req ai.AnswerRequest) (*ai.Answer, error)

	mu          sync.Mutex
	callCount   int
	lastRequest ai.AnswerRequest
}

var _ ai.AnswerGenerator = (*MockAnswerGenerator)(nil)

// NewMockAnswerGenerator creates a mock generator with default behavior.
func NewMockAnswerGenerator() *MockAnswerGenerator {
	return &MockAnswerGenerator{}
}

// GenerateAnswer returns a canned answer.
func (m *MockAnswerGenerator) GenerateAnswer(ctx context.Context, req ai.AnswerRequest) (*ai.Answer, error) {
	m.mu.Lock()
	m.callCount++
	m.lastRequest = req
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	return &ai.Answer{
		Text: fmt.Sprintf("answer to %q from %d sources", req.Query, len(req.Citations)),
		Usage: &core.Usage{
			PromptTokens:     100,
			CompletionTokens: 20,
			TotalTokens:      120,
			Cost:             0.001,
		},
	}, nil
}

// CallCount returns the number of times GenerateAnswer was called.
func (m *MockAnswerGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request.
func (m *MockAnswerGenerator) LastRequest() ai.AnswerRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}
