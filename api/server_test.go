package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/ragcore"
	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/ai/mock"
	"github.com/poiesic/ragcore/cache"
	"github.com/poiesic/ragcore/config"
	"github.com/poiesic/ragcore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return setupTestServerWith(t, mock.NewMockProvider())
}

func setupTestServerWith(t *testing.T, provider *mock.MockProvider) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.ChunkMaxChars = 30
	cfg.ChunkOverlapChars = 5
	cfg.EmbeddingBatchSize = 2

	engine, err := ragcore.Open(cfg, ragcore.WithProvider(provider))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	server, err := NewServer(engine, WithHeartbeat(50*time.Millisecond))
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ingest(t *testing.T, s *Server, project, body string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/projects/"+project+"/ingest", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[IngestResponse](t, rec).SessionID
	require.NotEmpty(t, id)

	_, err := s.engine.Pipeline().Wait(context.Background(), id)
	require.NoError(t, err)
	return id
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil)
	assert.ErrorIs(t, err, ErrEngineRequired)
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t)
	ingest(t, s, "p1", `{"url":"https://a.example","raw_text":"hello metrics"}`)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ragcore_ingestion_sessions_total")
}

func TestIngestAndSessions(t *testing.T) {
	s := setupTestServer(t)
	id := ingest(t, s, "p1", `{"url":"https://a.example","raw_text":"`+strings.Repeat("lorem ipsum ", 10)+`"}`)

	rec := do(t, s, http.MethodGet, "/api/v1/projects/p1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[core.IngestionSession](t, rec)
	assert.Equal(t, core.StatusCompleted, session.Status)
	assert.Equal(t, "p1", session.Scope.ProjectID)
	assert.Equal(t, session.TotalChunks, session.CurrentChunk)

	rec = do(t, s, http.MethodGet, "/api/v1/projects/p1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]core.IngestionSession](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	rec = do(t, s, http.MethodGet, "/api/v1/projects/empty/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/v1/projects/p2/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "sessions are only visible to their project")
	assert.NotContains(t, rec.Body.String(), "lorem")
}

func TestErrors(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		kind   core.Kind
	}{
		{"malformed body", http.MethodPost, "/api/v1/projects/p1/ingest", `{`, http.StatusBadRequest, core.KindValidation},
		{"missing url", http.MethodPost, "/api/v1/projects/p1/ingest", `{"raw_text":"x"}`, http.StatusBadRequest, core.KindValidation},
		{"unknown session", http.MethodGet, "/api/v1/projects/p1/sessions/nope", "", http.StatusNotFound, core.KindValidation},
		{"progress of unknown session", http.MethodGet, "/api/v1/projects/p1/progress?session=nope", "", http.StatusNotFound, core.KindValidation},
		{"empty query", http.MethodPost, "/api/v1/query", `{"project_id":"p1","query_text":" "}`, http.StatusBadRequest, core.KindValidation},
		{"negative top k", http.MethodPost, "/api/v1/query", `{"project_id":"p1","query_text":"q","top_k":-1}`, http.StatusBadRequest, core.KindValidation},
		{"invalidate without url", http.MethodDelete, "/api/v1/cache", "", http.StatusBadRequest, core.KindValidation},
		{"unknown route", http.MethodGet, "/api/v1/nothing", "", http.StatusNotFound, core.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Message)
		})
	}

	t.Run("duplicate session id", func(t *testing.T) {
		body := `{"url":"https://a.example","raw_text":"x","session_id":"fixed"}`
		ingest(t, s, "p1", body)
		rec := do(t, s, http.MethodPost, "/api/v1/projects/p1/ingest", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(core.KindValidation))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(core.KindRateLimit))
	assert.Equal(t, http.StatusBadGateway, statusFor(core.KindAuthentication))
	assert.Equal(t, http.StatusBadGateway, statusFor(core.KindConnection))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(core.KindTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusFor(core.KindStorage))
	assert.Equal(t, http.StatusInternalServerError, statusFor(core.KindPartialFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(core.KindConfiguration))
}

func TestHandleQuery(t *testing.T) {
	s := setupTestServer(t)
	ingest(t, s, "p1", `{"url":"https://a.example","raw_text":"the quick brown fox jumps over the lazy dog"}`)

	rec := do(t, s, http.MethodPost, "/api/v1/query", `{"query_text":"quick fox","project_id":"p1","top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[core.QueryResult](t, rec)
	require.Len(t, result.Results, 1)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "https://a.example", result.Citations[0].SourceURL)
	assert.Contains(t, result.Context, "[1] https://a.example")
	assert.NotEmpty(t, result.Answer)
	require.NotNil(t, result.Usage)
}

func TestCacheEndpoints(t *testing.T) {
	s := setupTestServer(t)
	ingest(t, s, "p1", `{"url":"https://a.example","raw_text":"cached page"}`)

	rec := do(t, s, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[cache.Stats](t, rec).TotalEntries)

	rec = do(t, s, http.MethodDelete, "/api/v1/cache?url=https://a.example", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Zero(t, decode[cache.Stats](t, rec).TotalEntries)
}

// stream reads a progress response until the server ends it.
func stream(t *testing.T, url string) <-chan string {
	t.Helper()
	out := make(chan string, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			out <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		out <- string(body)
	}()
	return out
}

func TestHandleProgress(t *testing.T) {
	gate := make(chan struct{})
	embedder := mock.NewMockEmbedder()
	embedder.EmbedFunc = func(ctx context.Context, texts []string) ai.Result {
		<-gate
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = mock.Vector(text, 16)
		}
		return ai.Success{Vectors: vectors}
	}
	s := setupTestServerWith(t, mock.NewMockProviderWithServices(embedder, mock.NewMockAnswerGenerator()))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	rec := do(t, s, http.MethodPost, "/api/v1/projects/p1/ingest",
		`{"url":"https://a.example","raw_text":"`+strings.Repeat("stream me ", 12)+`","session_id":"s1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := stream(t, ts.URL+"/api/v1/projects/p1/progress?session=s1")
	require.Eventually(t, func() bool {
		return s.engine.Broker().Subscribers("s1") == 1
	}, 5*time.Second, 10*time.Millisecond)
	close(gate)

	select {
	case got := <-body:
		assert.Contains(t, got, "event: progress_update\n")
		assert.Contains(t, got, `"session_id":"s1"`)
		assert.Contains(t, got, `"status":"processing"`)
		assert.Contains(t, got, `"status":"completed"`)
		assert.Contains(t, got, `"percent_complete":100`)
	case <-time.After(10 * time.Second):
		t.Fatal("progress stream did not end after the session finished")
	}
}

func TestHandleProgressFinishedSession(t *testing.T) {
	s := setupTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := ingest(t, s, "p1", `{"url":"https://a.example","raw_text":"`+strings.Repeat("done already ", 6)+`"}`)

	select {
	case got := <-stream(t, ts.URL+"/api/v1/projects/p1/progress?session="+id):
		assert.Equal(t, 1, strings.Count(got, "event: progress_update\n"))
		assert.Contains(t, got, `"status":"completed"`)
		assert.Contains(t, got, `"percent_complete":100`)
	case <-time.After(5 * time.Second):
		t.Fatal("stream of a finished session stayed open")
	}

	rec := do(t, s, http.MethodGet, "/api/v1/projects/p2/progress?session="+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleProgressClientDisconnect(t *testing.T) {
	s := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/progress", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s.Handler().ServeHTTP(rec, req)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("handler kept streaming after the client left")
	}
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": heartbeat\n\n")
}
