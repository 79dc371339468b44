package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/poiesic/ragcore/ai"
)

// DefaultDimensions is the vector size produced by the default mock behavior.
const DefaultDimensions = 384

// MockEmbedder is a test double for ai.Embedder.
// Results come from, in order of precedence: the script queue, EmbedFunc,
// and finally deterministic hash-based vectors.
type MockEmbedder struct {
	// EmbedFunc is called by Embed if set and no scripted result is queued.
	EmbedFunc func(ctx context.Context, texts []string) ai.Result

	// Dimensions is the size of default vectors. Zero means DefaultDimensions.
	Dimensions int

	mu        sync.Mutex
	script    []ai.Result
	callCount int
	calls     [][]string
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// Script queues results returned by successive Embed calls before falling
// back to the default behavior.
func (m *MockEmbedder) Script(results ...ai.Result) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
	return m
}

// Model returns a fixed model name.
func (m *MockEmbedder) Model() string {
	return "mock-embedding"
}

// Embed returns the next scripted result or deterministic vectors.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ai.Result {
	m.mu.Lock()
	m.callCount++
	m.calls = append(m.calls, append([]string(nil), texts...))
	var next ai.Result
	if len(m.script) > 0 {
		next = m.script[0]
		m.script = m.script[1:]
	}
	fn := m.EmbedFunc
	dims := m.Dimensions
	m.mu.Unlock()

	if next != nil {
		return next
	}
	if fn != nil {
		return fn(ctx, texts)
	}
	if dims == 0 {
		dims = DefaultDimensions
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = Vector(text, dims)
	}
	return ai.Success{Vectors: vectors}
}

// CallCount returns the number of times Embed was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls returns a copy of the inputs of every Embed call.
func (m *MockEmbedder) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears the call history, script and custom function.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.calls = nil
	m.script = nil
	m.EmbedFunc = nil
}

// Vector creates a deterministic unit vector from text.
// It uses FNV hash to ensure the same text always produces the same vector.
func Vector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 - 0.5
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares > 0 {
		norm := float32(1 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= norm
		}
	}

	return vector
}
