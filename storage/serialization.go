package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/ragcore/core"
)

// Records are encoded field by field with the mus-go primitives: strings
// and bools with ord, integers with varint, vector components with raw.
// Times are a zero flag followed by Unix nanoseconds.

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	var e encoder
	e.string(string(chunk.ContentKey))
	e.int(chunk.Index)
	e.string(chunk.Text)
	e.string(chunk.SourceURL)
	e.string(chunk.UserID)
	e.vector(chunk.Vector)
	return e.bytes(), nil
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	d := decoder{bs: data}
	chunk := &core.Chunk{
		ContentKey: core.ContentKey(d.string()),
		Index:      d.int(),
		Text:       d.string(),
		SourceURL:  d.string(),
		UserID:     d.string(),
		Vector:     d.vector(),
	}
	if err := d.finish("chunk"); err != nil {
		return nil, err
	}
	return chunk, nil
}

// MarshalCacheEntry serializes a CacheEntry to bytes.
func MarshalCacheEntry(entry *core.CacheEntry) ([]byte, error) {
	var e encoder
	e.string(entry.URL)
	e.string(entry.Content)
	e.string(entry.ContentHash)
	e.time(entry.CreatedAt)
	e.time(entry.ExpiresAt)
	e.int64(entry.Hits)
	return e.bytes(), nil
}

// UnmarshalCacheEntry deserializes a CacheEntry from bytes.
func UnmarshalCacheEntry(data []byte) (*core.CacheEntry, error) {
	d := decoder{bs: data}
	entry := &core.CacheEntry{
		URL:         d.string(),
		Content:     d.string(),
		ContentHash: d.string(),
		CreatedAt:   d.time(),
		ExpiresAt:   d.time(),
		Hits:        d.int64(),
	}
	if err := d.finish("cache entry"); err != nil {
		return nil, err
	}
	return entry, nil
}

// MarshalSession serializes an IngestionSession to bytes.
func MarshalSession(session *core.IngestionSession) ([]byte, error) {
	var e encoder
	e.string(session.ID)
	e.string(session.Scope.ProjectID)
	e.string(session.Scope.UserID)
	e.string(session.URL)
	e.string(string(session.ContentKey))
	e.string(string(session.Status))
	e.string(session.Message)
	e.int(session.CurrentChunk)
	e.int(session.TotalChunks)
	e.bool(session.TotalSet)
	e.bool(session.Error != nil)
	if session.Error != nil {
		e.string(string(session.Error.Kind))
		e.string(session.Error.Message)
	}
	e.time(session.CreatedAt)
	e.time(session.UpdatedAt)
	e.time(session.CompletedAt)
	return e.bytes(), nil
}

// UnmarshalSession deserializes an IngestionSession from bytes.
func UnmarshalSession(data []byte) (*core.IngestionSession, error) {
	d := decoder{bs: data}
	session := &core.IngestionSession{
		ID: d.string(),
		Scope: core.TenantScope{
			ProjectID: d.string(),
			UserID:    d.string(),
		},
		URL:          d.string(),
		ContentKey:   core.ContentKey(d.string()),
		Status:       core.SessionStatus(d.string()),
		Message:      d.string(),
		CurrentChunk: d.int(),
		TotalChunks:  d.int(),
		TotalSet:     d.bool(),
	}
	if d.bool() {
		session.Error = &core.SessionError{
			Kind:    core.Kind(d.string()),
			Message: d.string(),
		}
	}
	session.CreatedAt = d.time()
	session.UpdatedAt = d.time()
	session.CompletedAt = d.time()
	if err := d.finish("session"); err != nil {
		return nil, err
	}
	return session, nil
}

// encoder appends fields to a growing buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) bytes() []byte { return e.buf }

// grow extends buf by size bytes and returns the new tail.
func (e *encoder) grow(size int) []byte {
	start := len(e.buf)
	e.buf = append(e.buf, make([]byte, size)...)
	return e.buf[start:]
}

func (e *encoder) string(v string) {
	ord.String.Marshal(v, e.grow(ord.String.Size(v)))
}

func (e *encoder) bool(v bool) {
	ord.Bool.Marshal(v, e.grow(ord.Bool.Size(v)))
}

func (e *encoder) int(v int) {
	varint.Int.Marshal(v, e.grow(varint.Int.Size(v)))
}

func (e *encoder) int64(v int64) {
	varint.Int64.Marshal(v, e.grow(varint.Int64.Size(v)))
}

func (e *encoder) vector(v []float32) {
	e.int(len(v))
	for _, f := range v {
		raw.Float32.Marshal(f, e.grow(raw.Float32.Size(f)))
	}
}

func (e *encoder) time(t time.Time) {
	e.bool(t.IsZero())
	if !t.IsZero() {
		e.int64(t.UnixNano())
	}
}

// decoder reads fields in order. After the first failure every read returns
// the zero value and finish reports the error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) advance(n int, err error) bool {
	d.n += n
	if err != nil {
		d.err = err
		return false
	}
	return true
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	if !d.advance(n, err) {
		return ""
	}
	return v
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs[d.n:])
	if !d.advance(n, err) {
		return false
	}
	return v
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.bs[d.n:])
	if !d.advance(n, err) {
		return 0
	}
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs[d.n:])
	if !d.advance(n, err) {
		return 0
	}
	return v
}

func (d *decoder) vector() []float32 {
	dims := d.int()
	if d.err != nil || dims == 0 {
		return nil
	}
	// Each component takes four bytes, so a larger count cannot be satisfied.
	if dims < 0 || dims > (len(d.bs)-d.n)/4 {
		d.err = ErrTruncatedData
		return nil
	}
	v := make([]float32, dims)
	for i := range v {
		f, n, err := raw.Float32.Unmarshal(d.bs[d.n:])
		if !d.advance(n, err) {
			return nil
		}
		v[i] = f
	}
	return v
}

func (d *decoder) time() time.Time {
	if zero := d.bool(); zero || d.err != nil {
		return time.Time{}
	}
	ns := d.int64()
	if d.err != nil {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// finish reports the decode outcome. Every failure wraps
// ErrSerializationFailed; input that ran out early also wraps
// ErrTruncatedData.
func (d *decoder) finish(what string) error {
	switch {
	case d.err == ErrTruncatedData:
		return fmt.Errorf("decode %s: %w: %w", what, ErrSerializationFailed, ErrTruncatedData)
	case d.err != nil && d.n >= len(d.bs):
		return fmt.Errorf("decode %s: %w: %w: %w", what, ErrSerializationFailed, ErrTruncatedData, d.err)
	case d.err != nil:
		return fmt.Errorf("decode %s: %w: %w", what, ErrSerializationFailed, d.err)
	case d.n != len(d.bs):
		return fmt.Errorf("decode %s: %w: %d trailing bytes", what, ErrSerializationFailed, len(d.bs)-d.n)
	}
	return nil
}
