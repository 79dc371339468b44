package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragcore/cache"
	"github.com/poiesic/ragcore/chunker"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/metrics"
	"github.com/poiesic/ragcore/progress"
	"github.com/poiesic/ragcore/storage"
)

// DefaultRequestTimeout bounds one session from start to terminal state.
const DefaultRequestTimeout = 10 * time.Minute

// waitPollInterval is how often Wait re-reads sessions started elsewhere.
const waitPollInterval = 100 * time.Millisecond

// Embedder produces one vector per text for at most BatchSize texts per call.
// *embedding.Batcher satisfies it.
type Embedder interface {
	BatchSize() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Request triggers the ingestion of one page.
type Request struct {
	Scope        core.TenantScope `json:"tenant_scope"`
	URL          string           `json:"url"`
	Text         string           `json:"raw_text"`
	ForceRefresh bool             `json:"force_refresh"`

	// SessionID is generated when empty.
	SessionID string `json:"session_id,omitempty"`
}

// Pipeline orchestrates chunking, embedding and storage of scraped pages.
type Pipeline struct {
	sessions storage.SessionRepository
	vectors  storage.VectorRepository
	embedder Embedder
	cache    *cache.Cache
	broker   *progress.Broker
	pool     *ants.Pool
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	maxChars       int
	overlapChars   int
	requestTimeout time.Duration

	locks *keyLocks

	mu       sync.Mutex
	waiters  map[string]chan struct{}
	released bool
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of sessions processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunking sets the chunk window and overlap in runes.
// Default is chunker.DefaultMaxChars and chunker.DefaultOverlapChars.
func WithChunking(maxChars, overlapChars int) Option {
	return func(p *Pipeline) error {
		if _, err := chunker.Count(0, maxChars, overlapChars); err != nil {
			return err
		}
		p.maxChars = maxChars
		p.overlapChars = overlapChars
		return nil
	}
}

// WithRequestTimeout bounds each session. Default is DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		p.requestTimeout = d
		return nil
	}
}

// WithCache stores every ingested page in c.
func WithCache(c *cache.Cache) Option {
	return func(p *Pipeline) error {
		p.cache = c
		return nil
	}
}

// WithBroker publishes progress messages to b.
func WithBroker(b *progress.Broker) Option {
	return func(p *Pipeline) error {
		p.broker = b
		return nil
	}
}

// WithMetrics records session and chunk counts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now != nil {
			p.now = now
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	sessions storage.SessionRepository,
	vectors storage.VectorRepository,
	embedder Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if sessions == nil {
		return nil, ErrSessionRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		sessions:       sessions,
		vectors:        vectors,
		embedder:       embedder,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		maxChars:       chunker.DefaultMaxChars,
		overlapChars:   chunker.DefaultOverlapChars,
		requestTimeout: DefaultRequestTimeout,
		locks:          newKeyLocks(),
		waiters:        make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}

	if p.pool == nil {
		pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}
	p.logger = p.logger.With("component", "ingestion")

	return p, nil
}

// Start creates a pending session for req and processes it in the
// background. It returns as soon as the session is recorded.
func (p *Pipeline) Start(ctx context.Context, req Request) (string, error) {
	session, err := p.createSession(ctx, req)
	if err != nil {
		return "", err
	}

	// The session outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		err := p.pool.Submit(func() {
			p.process(runCtx, session, req)
		})
		if err != nil {
			p.logger.Error("error submitting ingestion", "session_id", session.ID, "err", err)
			p.fail(runCtx, session, core.NewError(core.KindConfiguration, "ingestion pool unavailable", err), 0)
		}
	}()

	return session.ID, nil
}

// Run ingests req in the calling goroutine and returns the terminal session.
// The error is the cause when the session ended in the error state.
func (p *Pipeline) Run(ctx context.Context, req Request) (*core.IngestionSession, error) {
	session, err := p.createSession(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.process(ctx, session, req)
}

// Wait blocks until the session reaches a terminal state and returns it.
func (p *Pipeline) Wait(ctx context.Context, sessionID string) (*core.IngestionSession, error) {
	p.mu.Lock()
	done, local := p.waiters[sessionID]
	p.mu.Unlock()

	if local {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, core.NewError(core.KindTimeout, "wait for session", ctx.Err())
		}
		return p.sessions.GetSession(ctx, sessionID)
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		s, err := p.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.Status.Terminal() {
			return s, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, core.NewError(core.KindTimeout, "wait for session", ctx.Err())
		}
	}
}

// Session returns the current record of a session.
func (p *Pipeline) Session(ctx context.Context, sessionID string) (*core.IngestionSession, error) {
	return p.sessions.GetSession(ctx, sessionID)
}

// ProjectSession returns a session only when it belongs to projectID.
// A session of another project is reported as storage.ErrNotFound so its
// existence is not revealed.
func (p *Pipeline) ProjectSession(ctx context.Context, projectID, sessionID string) (*core.IngestionSession, error) {
	if err := core.ValidateScope(core.TenantScope{ProjectID: projectID}); err != nil {
		return nil, err
	}
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Scope.ProjectID != projectID {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return session, nil
}

// Sessions lists a project's sessions, newest first.
func (p *Pipeline) Sessions(ctx context.Context, projectID string) ([]*core.IngestionSession, error) {
	if err := core.ValidateScope(core.TenantScope{ProjectID: projectID}); err != nil {
		return nil, err
	}
	return p.sessions.ListSessions(ctx, projectID)
}

// LockContent blocks until no session of this pipeline works on key and
// keeps key locked until the returned function is called. Other writers of
// a key's chunks take it to stay out of running sessions.
func (p *Pipeline) LockContent(key core.ContentKey) func() {
	return p.locks.lock(key)
}

// Release stops the worker pool. Sessions already running finish first.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()

	if p.pool != nil {
		if err := p.pool.ReleaseTimeout(p.requestTimeout); err != nil {
			p.logger.Warn("ingestion pool did not drain", "err", err)
		}
	}
}

func (p *Pipeline) createSession(ctx context.Context, req Request) (*core.IngestionSession, error) {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return nil, core.NewError(core.KindConfiguration, ErrPipelineReleased.Error(), ErrPipelineReleased)
	}

	item := &core.ContentItem{URL: req.URL, Text: req.Text, Scope: req.Scope}
	if err := core.ValidateContentItem(item); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	now := p.now()
	session := &core.IngestionSession{
		ID:         id,
		Scope:      req.Scope,
		URL:        req.URL,
		ContentKey: core.ContentKeyFor(req.Scope.ProjectID, req.URL),
		Status:     core.StatusPending,
		Message:    "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.sessions.CreateSession(ctx, session); err != nil {
		p.logger.Error("error creating session", "session_id", id, "err", err)
		return nil, err
	}

	p.mu.Lock()
	p.waiters[id] = make(chan struct{})
	p.mu.Unlock()
	p.metrics.SessionStarted()

	p.logger.Info("ingestion session created", "session_id", id, "project", req.Scope.ProjectID, "url", req.URL)
	return session, nil
}

// process runs one session to a terminal state.
func (p *Pipeline) process(ctx context.Context, session *core.IngestionSession, req Request) (*core.IngestionSession, error) {
	unlock := p.locks.lock(session.ContentKey)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	tracker := progress.NewTracker(session.ID, session.Scope.ProjectID, p.now)
	tracker.Start()

	if err := p.transition(ctx, session, core.StatusProcessing, "processing"); err != nil {
		return p.fail(ctx, session, err, 0)
	}

	p.cachePage(ctx, req)

	text := chunker.Normalize(req.Text)
	hash := p.sourceHash(text)
	if !req.ForceRefresh {
		if done, err := p.completeUnchanged(ctx, session, tracker, text, hash); done || err != nil {
			if err != nil {
				return p.fail(ctx, session, err, 0)
			}
			return session, nil
		}
	}

	pieces, err := chunker.Chunk(text, p.maxChars, p.overlapChars)
	if err != nil {
		return p.fail(ctx, session, err, 0)
	}

	if err := p.setTotal(ctx, session, tracker, len(pieces)); err != nil {
		return p.fail(ctx, session, err, 0)
	}

	if err := p.vectors.DeleteContent(ctx, session.Scope, session.ContentKey); err != nil {
		return p.fail(ctx, session, err, 0)
	}

	batchSize := max(p.embedder.BatchSize(), 1)
	for start := 0; start < len(pieces); start += batchSize {
		end := min(start+batchSize, len(pieces))
		if err := p.storeBatch(ctx, session, pieces[start:end]); err != nil {
			return p.fail(ctx, session, err, start)
		}

		tracker.Update(end)
		core.AdvanceProgress(session, end, p.now())
		session.Message = fmt.Sprintf("stored %d of %d chunks", end, len(pieces))
		if err := p.save(ctx, core.StatusProcessing, session); err != nil {
			return p.fail(ctx, session, err, end)
		}
		p.publish(tracker.Message(core.StatusProcessing, session.Message))
	}

	if err := p.vectors.SetContentHash(ctx, session.Scope, session.ContentKey, hash); err != nil {
		p.logger.Warn("could not record content hash", "session_id", session.ID, "err", err)
	}
	return p.complete(ctx, session, tracker, "completed")
}

// cachePage stores the fetched page. The pipeline never reads the cache, so
// its hit and miss counters only reflect callers of cache.Fetch and Lookup.
func (p *Pipeline) cachePage(ctx context.Context, req Request) {
	if p.cache == nil {
		return
	}
	if _, err := p.cache.Store(ctx, req.URL, req.Text, 0); err != nil {
		p.logger.Warn("could not cache page", "url", req.URL, "err", err)
	}
}

// sourceHash identifies the chunk set text produces under the current
// chunking settings.
func (p *Pipeline) sourceHash(text string) string {
	return core.HashContent(fmt.Sprintf("%d/%d:%s", p.maxChars, p.overlapChars, text))
}

// completeUnchanged finishes the session without embedding when the key's
// chunk set was fully built from the same text. It reports whether it did.
func (p *Pipeline) completeUnchanged(ctx context.Context, session *core.IngestionSession, tracker *progress.Tracker, text, hash string) (bool, error) {
	stored, err := p.vectors.ContentHash(ctx, session.Scope, session.ContentKey)
	if err != nil {
		p.logger.Warn("could not read content hash", "session_id", session.ID, "err", err)
		return false, nil
	}
	if stored == "" || stored != hash {
		return false, nil
	}

	want, err := chunker.Count(utf8.RuneCountInString(text), p.maxChars, p.overlapChars)
	if err != nil {
		return false, err
	}
	existing, err := p.vectors.Chunks(ctx, session.Scope, session.ContentKey)
	if err != nil {
		p.logger.Warn("could not read existing chunks", "session_id", session.ID, "err", err)
		return false, nil
	}
	if want == 0 || len(existing) != want || existing[len(existing)-1].Index != want-1 {
		return false, nil
	}

	if err := p.setTotal(ctx, session, tracker, want); err != nil {
		return true, err
	}
	tracker.Update(want)
	core.AdvanceProgress(session, want, p.now())
	_, err = p.complete(ctx, session, tracker, "content unchanged")
	return true, err
}

func (p *Pipeline) setTotal(ctx context.Context, session *core.IngestionSession, tracker *progress.Tracker, total int) error {
	if err := core.SetTotalChunks(session, total); err != nil {
		return err
	}
	if err := tracker.SetTotal(total); err != nil {
		return err
	}
	session.Message = fmt.Sprintf("%d chunks to embed", total)
	session.UpdatedAt = p.now()
	if err := p.save(ctx, core.StatusProcessing, session); err != nil {
		return err
	}
	p.publish(tracker.Message(core.StatusProcessing, session.Message))
	return nil
}

func (p *Pipeline) storeBatch(ctx context.Context, session *core.IngestionSession, pieces []chunker.Piece) error {
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(pieces) {
		return core.Errorf(core.KindUnknown, "embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
	}

	chunks := make([]core.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = core.Chunk{
			ContentKey: session.ContentKey,
			Index:      piece.Index,
			Text:       piece.Text,
			Vector:     vectors[i],
			SourceURL:  session.URL,
			UserID:     session.Scope.UserID,
		}
	}
	if err := p.vectors.PutChunks(ctx, session.Scope, session.ContentKey, chunks); err != nil {
		return err
	}
	p.metrics.RecordChunksStored(len(chunks))
	return nil
}

func (p *Pipeline) complete(ctx context.Context, session *core.IngestionSession, tracker *progress.Tracker, message string) (*core.IngestionSession, error) {
	if err := p.transition(ctx, session, core.StatusCompleted, message); err != nil {
		return p.fail(ctx, session, err, session.CurrentChunk)
	}
	p.publish(tracker.Message(core.StatusCompleted, message))
	p.finish(session)

	p.logger.Info("ingestion completed", "session_id", session.ID, "chunks", session.TotalChunks,
		"elapsed", tracker.Elapsed())
	return session, nil
}

// fail moves the session to the error state. stored is the number of
// chunks already persisted; they are kept.
func (p *Pipeline) fail(ctx context.Context, session *core.IngestionSession, cause error, stored int) (*core.IngestionSession, error) {
	kind := core.KindOf(cause)
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		kind = core.KindTimeout
	}
	message := cause.Error()
	if stored > 0 {
		kind = core.KindPartialFailure
		message = fmt.Sprintf("%d of %d chunks stored: %v", stored, session.TotalChunks, cause)
	}
	failure := core.NewError(kind, message, cause)

	p.logger.Error("ingestion failed", "session_id", session.ID, "kind", kind, "err", cause)

	// Record the failure even when the session's own deadline has passed.
	ctx = context.WithoutCancel(ctx)

	session.Error = &core.SessionError{Kind: kind, Message: message}
	if !session.Status.Terminal() {
		if err := p.transition(ctx, session, core.StatusError, message); err != nil {
			p.logger.Error("error recording session failure", "session_id", session.ID, "err", err)
		}
	}

	msg := progress.NewTracker(session.ID, session.Scope.ProjectID, p.now)
	_ = msg.SetTotal(session.TotalChunks)
	msg.Update(session.CurrentChunk)
	p.publish(msg.Message(core.StatusError, message))
	p.finish(session)

	return session, failure
}

// transition moves session to next and persists it with a compare-and-swap
// on the previous status.
func (p *Pipeline) transition(ctx context.Context, session *core.IngestionSession, next core.SessionStatus, message string) error {
	expected := session.Status
	if err := core.Transition(session, next, p.now()); err != nil {
		return err
	}
	session.Message = message
	if err := p.save(ctx, expected, session); err != nil {
		session.Status = expected
		return err
	}
	return nil
}

func (p *Pipeline) save(ctx context.Context, expected core.SessionStatus, session *core.IngestionSession) error {
	snapshot := *session
	if err := p.sessions.UpdateSession(ctx, expected, &snapshot); err != nil {
		p.logger.Error("error updating session", "session_id", session.ID, "err", err)
		return err
	}
	return nil
}

func (p *Pipeline) publish(msg core.ProgressMessage) {
	if p.broker != nil {
		p.broker.Publish(msg)
	}
}

func (p *Pipeline) finish(session *core.IngestionSession) {
	p.metrics.SessionFinished(string(session.Status))
	if p.broker != nil {
		p.broker.Finish(session.ID)
	}

	p.mu.Lock()
	if done, ok := p.waiters[session.ID]; ok {
		close(done)
		delete(p.waiters, session.ID)
	}
	p.mu.Unlock()
}
