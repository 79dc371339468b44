package reembed

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragcore/ai/mock"
	"github.com/poiesic/ragcore/chunker"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/embedding"
	"github.com/poiesic/ragcore/ingestion"
)

type recorder struct {
	mu   sync.Mutex
	msgs []core.ProgressMessage
}

func (r *recorder) report(msg core.ProgressMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) last() core.ProgressMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func TestNewReembedder(t *testing.T) {
	repos := setupTestDB(t)

	_, err := NewReembedder(nil, &mockEmbedder{}, nil, nil)
	assert.ErrorIs(t, err, ErrVectorRepositoryRequired)

	_, err = NewReembedder(repos.Vectors, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	r, err := NewReembedder(repos.Vectors, &mockEmbedder{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestReembedder_Run(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	keyA := seed(t, repos, scope, "https://a.example", 6)
	keyB := seed(t, repos, scope, "https://b.example", 4)
	other := seed(t, repos, core.TenantScope{ProjectID: "p2"}, "https://c.example", 2)
	ctx := context.Background()

	var rec recorder
	embedder := &mockEmbedder{}
	r, err := NewReembedder(repos.Vectors, embedder, &Config{BatchSize: 3, ReportInterval: 3}, rec.report)
	require.NoError(t, err)

	result, err := r.Run(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ContentKeys)
	assert.Equal(t, 10, result.Chunks)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 4, embedder.callCount(), "6 chunks in two batches, 4 chunks in two batches")

	for _, key := range []core.ContentKey{keyA, keyB} {
		chunks, err := repos.Vectors.Chunks(ctx, scope, key)
		require.NoError(t, err)
		for _, c := range chunks {
			assert.InDelta(t, 1.0/3.0, c.Vector[0], 1e-6, "chunk %d of %s", c.Index, key)
		}
	}

	untouched, err := repos.Vectors.Chunks(ctx, core.TenantScope{ProjectID: "p2"}, other)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, untouched[0].Vector, "other projects are not re-embedded")

	require.NotEmpty(t, rec.msgs)
	first := rec.msgs[0]
	assert.Equal(t, core.StatusProcessing, first.Data.Status)
	assert.Equal(t, 10, first.Data.TotalChunks)
	assert.Equal(t, result.RunID, first.SessionID)
	assert.Equal(t, "p1", first.ProjectID)

	final := rec.last()
	assert.Equal(t, core.StatusCompleted, final.Data.Status)
	assert.Equal(t, 10, final.Data.CurrentChunk)
	assert.InDelta(t, 100.0, final.Data.PercentComplete, 1e-9)

	previous := -1
	for _, msg := range rec.msgs {
		assert.GreaterOrEqual(t, msg.Data.CurrentChunk, previous, "progress never moves backwards")
		previous = msg.Data.CurrentChunk
	}
}

func TestReembedder_WithBatcher(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	key := seed(t, repos, scope, "https://a.example", 3)
	ctx := context.Background()

	provider := mock.NewMockEmbedder()
	provider.Dimensions = 3
	batcher, err := embedding.NewBatcher(provider, embedding.WithBatchSize(2), embedding.WithMaxRetries(0))
	require.NoError(t, err)

	r, err := NewReembedder(repos.Vectors, batcher, nil, nil)
	require.NoError(t, err)
	_, err = r.Run(ctx, "p1")
	require.NoError(t, err)

	chunks, err := repos.Vectors.Chunks(ctx, scope, key)
	require.NoError(t, err)
	for _, c := range chunks {
		want := embedding.NormalizeVector(mock.Vector(c.Text, 3))
		assert.InDeltaSlice(t, want, c.Vector, 1e-6)
	}
}

func TestReembedder_EmptyProject(t *testing.T) {
	repos := setupTestDB(t)

	var rec recorder
	embedder := &mockEmbedder{}
	r, err := NewReembedder(repos.Vectors, embedder, nil, rec.report)
	require.NoError(t, err)

	result, err := r.Run(context.Background(), "empty")
	require.NoError(t, err)
	assert.Zero(t, result.Chunks)
	assert.Zero(t, embedder.callCount())
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, core.StatusCompleted, rec.msgs[0].Data.Status)
}

func TestReembedder_InvalidProject(t *testing.T) {
	repos := setupTestDB(t)
	r, err := NewReembedder(repos.Vectors, &mockEmbedder{}, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "  ")
	assert.ErrorIs(t, err, core.ErrEmptyProjectID)
}

func TestReembedder_PartialFailure(t *testing.T) {
	repos := setupTestDB(t)
	scope := core.TenantScope{ProjectID: "p1"}
	seed(t, repos, scope, "https://a.example", 4)
	ctx := context.Background()

	calls := 0
	embedder := &mockEmbedder{}
	embedder.embedFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			return nil, core.NewError(core.KindRateLimit, "slow down", nil)
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{0, 1, 0}
		}
		return out, nil
	}

	var rec recorder
	r, err := NewReembedder(repos.Vectors, embedder, &Config{BatchSize: 2, ReportInterval: 1}, rec.report)
	require.NoError(t, err)

	result, err := r.Run(ctx, "p1")
	require.Error(t, err)
	assert.Equal(t, core.KindRateLimit, core.KindOf(err))
	assert.Equal(t, 2, result.Chunks)

	final := rec.last()
	assert.Equal(t, core.StatusError, final.Data.Status)
	assert.Contains(t, final.Data.Message, "2 of 4 chunks re-embedded")
}

func TestReembedder_WaitsForIngestionOfSameKey(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	scope := core.TenantScope{ProjectID: "p1"}

	provider := mock.NewMockEmbedder()
	provider.Dimensions = 3
	batcher, err := embedding.NewBatcher(provider, embedding.WithBatchSize(2), embedding.WithMaxRetries(0))
	require.NoError(t, err)
	pipeline, err := ingestion.NewPipeline(repos.Sessions, repos.Vectors, batcher, ingestion.WithChunking(10, 2))
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	_, err = pipeline.Run(ctx, ingestion.Request{Scope: scope, URL: "https://a.example", Text: strings.Repeat("a", 40)})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := &mockEmbedder{}
	slow.embedFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{0, 1, 0}
		}
		return out, nil
	}

	r, err := NewReembedder(repos.Vectors, slow, &Config{BatchSize: 2, ReportInterval: 2, Locker: pipeline}, nil)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, "p1")
		done <- err
	}()
	<-entered

	newText := strings.Repeat("b", 25)
	id, err := pipeline.Start(ctx, ingestion.Request{Scope: scope, URL: "https://a.example", Text: newText})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	session, err := pipeline.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, session.Status, "ingestion waits while the key is re-embedded")

	close(release)
	require.NoError(t, <-done)
	session, err = pipeline.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, session.Status)

	want, err := chunker.Count(len(newText), 10, 2)
	require.NoError(t, err)
	chunks, err := repos.Vectors.Chunks(ctx, scope, session.ContentKey)
	require.NoError(t, err)
	require.Len(t, chunks, want)
	for _, c := range chunks {
		assert.Equal(t, strings.Repeat("b", len(c.Text)), c.Text, "chunk %d", c.Index)
	}
}
