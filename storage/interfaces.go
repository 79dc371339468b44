package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragcore/core"
)

// CacheRepository stores one cache entry per URL.
// Implementations must be thread-safe and support concurrent access.
type CacheRepository interface {
	// GetEntry retrieves the entry for url regardless of freshness.
	// Returns ErrNotFound if there is no entry.
	GetEntry(ctx context.Context, url string) (*core.CacheEntry, error)

	// PutEntry writes entry, replacing any previous entry for the same URL.
	// The write is blind: no read happens first.
	PutEntry(ctx context.Context, entry *core.CacheEntry) error

	// RecordHit increments the per-entry hit count.
	// Returns ErrNotFound if there is no entry.
	RecordHit(ctx context.Context, url string) error

	// DeleteEntry removes the entry for url. Deleting a missing entry is not an error.
	DeleteEntry(ctx context.Context, url string) error

	// CountEntries returns the number of entries still fresh at asOf.
	CountEntries(ctx context.Context, asOf time.Time) (int, error)

	// Close releases resources held by the repository.
	Close() error
}

// VectorRepository persists embedded chunks and answers nearest-neighbour
// queries. Every operation is bounded by a tenant scope; a scope without a
// project is rejected.
type VectorRepository interface {
	// Upsert replaces the entire chunk set of key with chunks in one
	// transaction. Chunk indices must be contiguous from zero.
	Upsert(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error

	// PutChunks adds or overwrites chunks of key by index, leaving other
	// indices untouched.
	PutChunks(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error

	// DeleteContent removes every chunk of key. Deleting a missing key is not an error.
	DeleteContent(ctx context.Context, scope core.TenantScope, key core.ContentKey) error

	// Chunks returns the chunks of key ordered by index.
	Chunks(ctx context.Context, scope core.TenantScope, key core.ContentKey) ([]core.Chunk, error)

	// ContentHash returns the hash recorded for key by SetContentHash, or ""
	// when none is recorded.
	ContentHash(ctx context.Context, scope core.TenantScope, key core.ContentKey) (string, error)

	// SetContentHash records the hash of the text key's chunk set was built
	// from. It is a no-op when key holds no chunks. Upsert and DeleteContent
	// clear the hash; PutChunks keeps it.
	SetContentHash(ctx context.Context, scope core.TenantScope, key core.ContentKey, hash string) error

	// ContentKeys returns the content keys that have chunks in the scope's
	// project, in ascending order.
	ContentKeys(ctx context.Context, scope core.TenantScope) ([]core.ContentKey, error)

	// Search returns up to topK chunks ranked by cosine similarity to query,
	// highest first. Ties are broken by ascending chunk index, then content
	// key. When candidates is non-empty only those keys are considered. When
	// scope has a UserID only that user's chunks are considered.
	Search(ctx context.Context, query []float32, candidates []core.ContentKey, topK int, scope core.TenantScope) ([]core.RankedChunk, error)

	// Close releases resources held by the repository.
	Close() error
}

// SessionRepository persists ingestion sessions.
type SessionRepository interface {
	// CreateSession stores a new session.
	// Returns ErrDuplicateKey if a session with the same ID exists.
	CreateSession(ctx context.Context, session *core.IngestionSession) error

	// GetSession retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*core.IngestionSession, error)

	// UpdateSession overwrites a session if its stored status still equals
	// expected. Returns ErrStatusConflict otherwise, and ErrNotFound if the
	// session doesn't exist.
	UpdateSession(ctx context.Context, expected core.SessionStatus, session *core.IngestionSession) error

	// ListSessions returns the sessions of a project, newest first.
	ListSessions(ctx context.Context, projectID string) ([]*core.IngestionSession, error)

	// Close releases resources held by the repository.
	Close() error
}
