package reembed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragcore/core"
)

// mockEmbedder returns unnormalized vectors unless embedFunc is set.
type mockEmbedder struct {
	mu        sync.Mutex
	calls     [][]string
	embedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, texts)
	fn := m.embedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0} // magnitude = 3.0
	}
	return result, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestBatchProcessor_Process(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	owner := core.TenantScope{ProjectID: "p1", UserID: "alice"}
	key := seed(t, repos, owner, "https://a.example", 2)
	ctx := context.Background()

	chunks, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)

	embedder := &mockEmbedder{}
	require.NoError(t, NewBatchProcessor(repos.Vectors, embedder).Process(ctx, scope, key, chunks))

	require.Equal(t, 1, embedder.callCount())
	assert.Equal(t, []string{"https://a.example chunk 0", "https://a.example chunk 1"}, embedder.calls[0])

	updated, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	for i, c := range updated {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, chunks[i].Text, c.Text)
		assert.Equal(t, "alice", c.UserID, "ownership is kept")
		assert.Equal(t, "https://a.example", c.SourceURL)
		require.Len(t, c.Vector, 3)
		assert.InDelta(t, 1.0/3.0, c.Vector[0], 1e-6)
		assert.InDelta(t, 2.0/3.0, c.Vector[1], 1e-6)
		assert.InDelta(t, 2.0/3.0, c.Vector[2], 1e-6)
	}
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	repos := setupTestDB(t)
	embedder := &mockEmbedder{}

	err := NewBatchProcessor(repos.Vectors, embedder).Process(context.Background(),
		core.TenantScope{ProjectID: "p1"}, core.ContentKey("k"), nil)
	require.NoError(t, err)
	assert.Zero(t, embedder.callCount())
}

func TestBatchProcessor_EmbeddingFailure(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	key := seed(t, repos, scope, "https://a.example", 2)
	ctx := context.Background()
	chunks, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)

	failure := core.NewError(core.KindAuthentication, "bad key", nil)
	embedder := &mockEmbedder{embedFunc: func(context.Context, []string) ([][]float32, error) {
		return nil, failure
	}}

	err = NewBatchProcessor(repos.Vectors, embedder).Process(ctx, scope, key, chunks)
	require.Error(t, err)
	assert.Equal(t, core.KindAuthentication, core.KindOf(err))

	stored, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, stored[0].Vector, "vectors are untouched on failure")
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	key := seed(t, repos, scope, "https://a.example", 2)
	ctx := context.Background()
	chunks, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)

	embedder := &mockEmbedder{embedFunc: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}}

	err = NewBatchProcessor(repos.Vectors, embedder).Process(ctx, scope, key, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
}

func TestBatchProcessor_DimensionChange(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	key := seed(t, repos, scope, "https://a.example", 2)
	seed(t, repos, scope, "https://b.example", 1)
	ctx := context.Background()
	chunks, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)

	embedder := &mockEmbedder{embedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 0, 0, 0}
		}
		return out, nil
	}}

	err = NewBatchProcessor(repos.Vectors, embedder).Process(ctx, scope, key, chunks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))
}
