package core

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// TenantScope identifies the project (and optionally the user) that owns
// content. Every store and search operation is bounded by a scope.
type TenantScope struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id,omitempty"`
}

// ContentKey addresses the chunk set of one URL within one project.
type ContentKey string

// ContentKeyFor derives the deterministic key for a URL in a project using
// BLAKE2b, so re-ingesting a URL replaces the same chunk set.
func ContentKeyFor(projectID, url string) ContentKey {
	h, _ := blake2b.New(16, nil) // 16 bytes = 32 hex chars
	h.Write([]byte(projectID))
	h.Write([]byte{0})
	h.Write([]byte(url))
	return ContentKey(hex.EncodeToString(h.Sum(nil)))
}

// ContentKeyLen is the length of every key produced by ContentKeyFor.
const ContentKeyLen = 32

// HashContent returns a hex BLAKE2b-256 digest of text. It is used to detect
// unchanged pages on re-ingestion.
func HashContent(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ContentItem is a scraped page handed to the ingestion pipeline.
type ContentItem struct {
	URL       string
	Text      string
	Scope     TenantScope
	FetchedAt time.Time
}

// Chunk is one window of a content item. Index is zero-based and contiguous
// per content key; Vector is nil until embedded.
type Chunk struct {
	ContentKey ContentKey `json:"content_key"`
	Index      int        `json:"index"`
	Text       string     `json:"text"`
	Vector     []float32  `json:"vector,omitempty"`
	SourceURL  string     `json:"source_url"`
	UserID     string     `json:"user_id,omitempty"`
}

// RankedChunk is a search hit with its cosine similarity score.
type RankedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// CacheEntry is the cached text of one URL. There is at most one entry per URL.
type CacheEntry struct {
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Hits        int64     `json:"hits"`
}

// Fresh reports whether the entry is still valid at now.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// SessionStatus is the lifecycle state of an ingestion session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusError      SessionStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic: pending -> processing -> {completed | error}. A pending session
// may also fail before it starts processing.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusError
	case StatusProcessing:
		return next == StatusCompleted || next == StatusError
	default:
		return false
	}
}

// SessionError records why a session ended in the error state.
type SessionError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// IngestionSession tracks one ingestion job from trigger to terminal state.
type IngestionSession struct {
	ID           string        `json:"id"`
	Scope        TenantScope   `json:"scope"`
	URL          string        `json:"url"`
	ContentKey   ContentKey    `json:"content_key"`
	Status       SessionStatus `json:"status"`
	Message      string        `json:"message,omitempty"`
	CurrentChunk int           `json:"current_chunk"`
	TotalChunks  int           `json:"total_chunks"`
	TotalSet     bool          `json:"total_set"`
	Error        *SessionError `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  time.Time     `json:"completed_at,omitzero"`
}

// PercentComplete returns progress in [0, 100]. Completed sessions report 100
// even when there were no chunks.
func (s *IngestionSession) PercentComplete() float64 {
	if s.Status == StatusCompleted {
		return 100
	}
	if s.TotalChunks <= 0 {
		return 0
	}
	return float64(s.CurrentChunk) / float64(s.TotalChunks) * 100
}

// ProgressMessageType is the only message type on the progress channel.
const ProgressMessageType = "progress_update"

// PerformanceMetrics are throughput figures attached to progress updates.
type PerformanceMetrics struct {
	ChunksPerSecond float64 `json:"chunks_per_second"`
	ProcessingTime  float64 `json:"processing_time"`
}

// ProgressData is the payload of a progress message.
type ProgressData struct {
	Status             SessionStatus       `json:"status"`
	Message            string              `json:"message"`
	CurrentChunk       int                 `json:"current_chunk"`
	TotalChunks        int                 `json:"total_chunks"`
	PercentComplete    float64             `json:"percent_complete"`
	PerformanceMetrics *PerformanceMetrics `json:"performance_metrics,omitempty"`
}

// ProgressMessage is delivered to subscribers of a session or project topic.
type ProgressMessage struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id"`
	ProjectID string       `json:"project_id"`
	Data      ProgressData `json:"data"`
}

// Citation points a numbered context block back at its source.
type Citation struct {
	Number    int        `json:"number"`
	SourceURL string     `json:"source_url"`
	Key       ContentKey `json:"content_key"`
	Index     int        `json:"chunk_index"`
	Score     float32    `json:"score"`
}

// Usage is token accounting reported by an external answer generator.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// QueryResult is the outcome of a retrieval query.
type QueryResult struct {
	Query     string        `json:"query"`
	Scope     TenantScope   `json:"scope"`
	Results   []RankedChunk `json:"results"`
	Context   string        `json:"context"`
	Citations []Citation    `json:"citations"`
	Answer    string        `json:"answer,omitempty"`
	Usage     *Usage        `json:"usage,omitempty"`
}
