package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentKeyFor(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := ContentKeyFor("p1", "https://example.com/a")
		b := ContentKeyFor("p1", "https://example.com/a")
		assert.Equal(t, a, b)
		assert.Len(t, string(a), ContentKeyLen)
	})

	t.Run("project scoped", func(t *testing.T) {
		a := ContentKeyFor("p1", "https://example.com/a")
		b := ContentKeyFor("p2", "https://example.com/a")
		assert.NotEqual(t, a, b)
	})

	t.Run("separator prevents concatenation collisions", func(t *testing.T) {
		a := ContentKeyFor("ab", "c")
		b := ContentKeyFor("a", "bc")
		assert.NotEqual(t, a, b)
	})
}

func TestHashContent(t *testing.T) {
	assert.Equal(t, HashContent("hello"), HashContent("hello"))
	assert.NotEqual(t, HashContent("hello"), HashContent("hello!"))
	assert.Len(t, HashContent(""), 64)
}

func TestCacheEntryFresh(t *testing.T) {
	now := time.Now()
	e := &CacheEntry{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, e.Fresh(now))
	assert.False(t, e.Fresh(now.Add(time.Minute)), "expiry instant is not fresh")
	assert.False(t, e.Fresh(now.Add(2*time.Minute)))
}

func TestPercentComplete(t *testing.T) {
	s := &IngestionSession{Status: StatusProcessing, TotalChunks: 4, CurrentChunk: 1}
	assert.InDelta(t, 25.0, s.PercentComplete(), 0.001)

	empty := &IngestionSession{Status: StatusCompleted}
	assert.InDelta(t, 100.0, empty.PercentComplete(), 0.001)

	pending := &IngestionSession{Status: StatusPending}
	assert.Zero(t, pending.PercentComplete())
}

func TestErrorMatching(t *testing.T) {
	err := NewError(KindRateLimit, "slow down", nil)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.NotErrorIs(t, err, ErrTimeout)

	wrapped := fmt.Errorf("embedding batch 3: %w", err)
	assert.ErrorIs(t, wrapped, ErrRateLimit)
	assert.Equal(t, KindRateLimit, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorfKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Errorf(KindStorage, "write chunk %d: %w", 3, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, "storage: write chunk 3: disk full", err.Error())
}

func TestRetryableKinds(t *testing.T) {
	for _, k := range []Kind{KindRateLimit, KindConnection, KindTimeout} {
		assert.True(t, k.Retryable(), k)
	}
	for _, k := range []Kind{KindValidation, KindConfiguration, KindAuthentication, KindStorage, KindPartialFailure} {
		assert.False(t, k.Retryable(), k)
	}
}

func TestProgressMessageShape(t *testing.T) {
	msg := ProgressMessage{
		Type:      ProgressMessageType,
		SessionID: "s1",
		ProjectID: "p1",
		Data: ProgressData{
			Status:          StatusProcessing,
			Message:         "embedded batch 1",
			CurrentChunk:    20,
			TotalChunks:     40,
			PercentComplete: 50,
			PerformanceMetrics: &PerformanceMetrics{
				ChunksPerSecond: 10,
				ProcessingTime:  2,
			},
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "progress_update", decoded["type"])
	assert.Equal(t, "s1", decoded["session_id"])
	assert.Equal(t, "p1", decoded["project_id"])

	data := decoded["data"].(map[string]any)
	assert.Equal(t, "processing", data["status"])
	assert.EqualValues(t, 20, data["current_chunk"])
	assert.EqualValues(t, 40, data["total_chunks"])
	assert.EqualValues(t, 50, data["percent_complete"])

	perf := data["performance_metrics"].(map[string]any)
	assert.EqualValues(t, 10, perf["chunks_per_second"])
	assert.EqualValues(t, 2, perf["processing_time"])
}
