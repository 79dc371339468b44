package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0600))

	_, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	repo := NewCacheRepository(backend)
	_, err = repo.GetEntry(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.Equal(t, core.KindStorage, core.KindOf(err))
}

func TestBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	scope := core.TenantScope{ProjectID: "p1"}
	key := core.ContentKeyFor("p1", "https://example.com")

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	err = NewVectorRepository(backend).Upsert(ctx, scope, key, []core.Chunk{
		{Index: 0, Text: "zero", Vector: []float32{1, 0}},
	})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	chunks, err := NewVectorRepository(backend).Chunks(ctx, scope, key)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "zero", chunks[0].Text)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scale invariant", []float32{1, 1}, []float32{5, 5}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestParseChunkKey(t *testing.T) {
	key := makeChunkKey("proj", "abc", 42)
	prefixLen := len(makeProjectChunkPrefix("proj"))

	contentKey, index, ok := parseChunkKey(key, prefixLen)
	require.True(t, ok)
	assert.Equal(t, core.ContentKey("abc"), contentKey)
	assert.Equal(t, 42, index)

	_, _, ok = parseChunkKey(key[:len(key)-1], prefixLen)
	assert.False(t, ok)
}

func TestProjectPrefixesDoNotOverlap(t *testing.T) {
	a := makeProjectChunkPrefix("a")
	ab := makeChunkKey("ab", "k", 0)
	assert.NotEqual(t, a, ab[:len(a)])
}
