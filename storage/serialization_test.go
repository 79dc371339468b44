package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/poiesic/ragcore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEncoding_VectorIsPacked(t *testing.T) {
	chunk := &core.Chunk{
		ContentKey: core.ContentKeyFor("proj", "https://example.com"),
		Index:      3,
		Text:       "some text",
		SourceURL:  "https://example.com",
		UserID:     "u1",
		Vector:     []float32{0.25, -1, 3.5e-7},
	}

	data, err := MarshalChunk(chunk)
	require.NoError(t, err)

	decoded, err := UnmarshalChunk(data)
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)

	// Three float32 values take exactly twelve bytes at the end.
	withoutVector := *chunk
	withoutVector.Vector = nil
	short, err := MarshalChunk(&withoutVector)
	require.NoError(t, err)
	assert.Equal(t, len(short)+12, len(data))
}

func TestChunkEncoding_NoVector(t *testing.T) {
	chunk := &core.Chunk{ContentKey: "k", Index: 0, Text: "t"}
	data, err := MarshalChunk(chunk)
	require.NoError(t, err)

	decoded, err := UnmarshalChunk(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Vector)
}

func TestUnmarshalChunk_Truncated(t *testing.T) {
	data, err := MarshalChunk(&core.Chunk{ContentKey: "k", Text: "text", Vector: []float32{1, 2}})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"key only", data[:2]},
		{"before source url", data[:8]},
		{"vector cut", data[:len(data)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalChunk(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)
			assert.ErrorIs(t, err, ErrTruncatedData)
		})
	}
}

func TestUnmarshalChunk_TrailingBytes(t *testing.T) {
	data, err := MarshalChunk(&core.Chunk{ContentKey: "k", Vector: []float32{1}})
	require.NoError(t, err)

	_, err = UnmarshalChunk(append(data, 0))
	assert.True(t, errors.Is(err, ErrSerializationFailed))
	assert.False(t, errors.Is(err, ErrTruncatedData))
}

func TestUnmarshalChunk_ImpossibleDimensions(t *testing.T) {
	data, err := MarshalChunk(&core.Chunk{ContentKey: "k"})
	require.NoError(t, err)

	// Replace the zero dimension count with 100 and supply one component.
	data = append(data[:len(data)-1], 200, 1, 0, 0, 0, 0)
	_, err = UnmarshalChunk(data)
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestCacheEntryEncoding(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &core.CacheEntry{
		URL:         "https://example.com/a",
		Content:     "hello",
		ContentHash: core.HashContent("hello"),
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
		Hits:        7,
	}
	data, err := MarshalCacheEntry(entry)
	require.NoError(t, err)
	decoded, err := UnmarshalCacheEntry(data)
	require.NoError(t, err)
	assert.Equal(t, entry, decoded)

	_, err = UnmarshalCacheEntry(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestSessionEncoding_KeepsError(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &core.IngestionSession{
		ID:          "s1",
		Scope:       core.TenantScope{ProjectID: "p"},
		URL:         "https://example.com",
		Status:      core.StatusError,
		TotalChunks: 6,
		TotalSet:    true,
		Error:       &core.SessionError{Kind: core.KindRateLimit, Message: "quota"},
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: now,
	}
	data, err := MarshalSession(session)
	require.NoError(t, err)
	decoded, err := UnmarshalSession(data)
	require.NoError(t, err)
	assert.Equal(t, session, decoded)
}

func TestSessionEncoding_ZeroTimesAndNoError(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	session := &core.IngestionSession{
		ID:           "s2",
		Scope:        core.TenantScope{ProjectID: "p", UserID: "u"},
		URL:          "https://example.com/b",
		ContentKey:   core.ContentKeyFor("p", "https://example.com/b"),
		Status:       core.StatusProcessing,
		CurrentChunk: 2,
		TotalChunks:  5,
		TotalSet:     true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	data, err := MarshalSession(session)
	require.NoError(t, err)
	decoded, err := UnmarshalSession(data)
	require.NoError(t, err)
	assert.Equal(t, session, decoded)
	assert.Nil(t, decoded.Error)
	assert.True(t, decoded.CompletedAt.IsZero())
}
