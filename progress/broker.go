package progress

import (
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/metrics"
)

const (
	// DefaultBufferSize is the number of messages a subscription holds
	// before new messages are dropped.
	DefaultBufferSize = 64

	// finishedRetention is how long a finished session is remembered so
	// that late subscribers end immediately instead of waiting forever.
	finishedRetention = 10 * time.Minute
)

// Broker fans progress messages out to session and project subscribers.
// It is safe for concurrent use.
type Broker struct {
	bufferSize int
	sinks      []Sink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]map[*Subscription]struct{}
	projects map[string]map[*Subscription]struct{}
	finished map[string]time.Time
	closed   bool
}

// Option configures a Broker.
type Option func(*Broker) error

// WithBufferSize sets the per-subscription buffer. Default is DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(b *Broker) error {
		if n <= 0 {
			return ErrInvalidBufferSize
		}
		b.bufferSize = n
		return nil
	}
}

// WithSink forwards every published message to sink.
func WithSink(sink Sink) Option {
	return func(b *Broker) error {
		if sink != nil {
			b.sinks = append(b.sinks, sink)
		}
		return nil
	}
}

// WithMetrics counts dropped messages in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) error {
		b.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBroker creates a broker.
func NewBroker(opts ...Option) (*Broker, error) {
	b := &Broker{
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
		now:        time.Now,
		sessions:   make(map[string]map[*Subscription]struct{}),
		projects:   make(map[string]map[*Subscription]struct{}),
		finished:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "progress-broker")
	return b, nil
}

// Subscribe observes one session. The subscription ends when the session
// finishes, when it is closed, or when the broker closes. Subscribing to a
// session that already finished returns an ended subscription.
func (b *Broker) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(sessionID, false)
	if _, done := b.finished[sessionID]; done || b.closed {
		sub.end()
		return sub
	}
	addTo(b.sessions, sessionID, sub)
	return sub
}

// SubscribeProject observes every session of a project until the
// subscription or the broker is closed.
func (b *Broker) SubscribeProject(projectID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(projectID, true)
	if b.closed {
		sub.end()
		return sub
	}
	addTo(b.projects, projectID, sub)
	return sub
}

// Publish delivers msg to the session's and project's subscribers and to
// every sink. It never blocks; subscribers with full buffers miss msg.
func (b *Broker) Publish(msg core.ProgressMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for sub := range b.sessions[msg.SessionID] {
		b.deliver(sub, msg)
	}
	for sub := range b.projects[msg.ProjectID] {
		b.deliver(sub, msg)
	}
	b.mu.Unlock()

	if len(b.sinks) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("error encoding progress message", "session_id", msg.SessionID, "err", err)
		return
	}
	subject := Subject(msg.ProjectID, msg.SessionID)
	for _, sink := range b.sinks {
		if err := sink.Publish(subject, data); err != nil {
			b.logger.Warn("progress sink publish failed", "subject", subject, "err", err)
		}
	}
}

// Finish ends every subscription to sessionID. Project subscriptions stay open.
func (b *Broker) Finish(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.sessions[sessionID] {
		sub.end()
	}
	delete(b.sessions, sessionID)

	now := b.now()
	b.finished[sessionID] = now
	for id, at := range b.finished {
		if now.Sub(at) > finishedRetention {
			delete(b.finished, id)
		}
	}
}

// Close ends every subscription. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.sessions {
		for sub := range subs {
			sub.end()
		}
	}
	for _, subs := range b.projects {
		for sub := range subs {
			sub.end()
		}
	}
	clear(b.sessions)
	clear(b.projects)
}

// Subscribers returns the number of open subscriptions for a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID])
}

// deliver must be called with b.mu held.
func (b *Broker) deliver(sub *Subscription, msg core.ProgressMessage) {
	select {
	case sub.ch <- msg:
	default:
		sub.dropped.Add(1)
		b.metrics.RecordProgressDropped()
	}
}

func (b *Broker) newSubscription(topic string, project bool) *Subscription {
	return &Subscription{
		broker:  b,
		topic:   topic,
		project: project,
		ch:      make(chan core.ProgressMessage, b.bufferSize),
	}
}

// unsubscribe removes sub and ends it.
func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := b.sessions
	if sub.project {
		topics = b.projects
	}
	if subs, ok := topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(topics, sub.topic)
		}
	}
	sub.end()
}

func addTo(topics map[string]map[*Subscription]struct{}, topic string, sub *Subscription) {
	subs, ok := topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

// Subscription is one observer's view of a topic.
type Subscription struct {
	broker  *Broker
	topic   string
	project bool
	ch      chan core.ProgressMessage

	endOnce  sync.Once
	consumed atomic.Bool
	dropped  atomic.Int64
}

// C returns the delivery channel. It is closed when the subscription ends;
// messages already buffered remain readable.
func (s *Subscription) C() <-chan core.ProgressMessage {
	return s.ch
}

// Events yields messages until the subscription ends. The sequence can be
// consumed once; later calls yield nothing.
func (s *Subscription) Events() iter.Seq[core.ProgressMessage] {
	return func(yield func(core.ProgressMessage) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			return
		}
		for msg := range s.ch {
			if !yield(msg) {
				return
			}
		}
	}
}

// Dropped returns the number of messages this subscription missed because
// its buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. It never affects the observed ingestion.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// end closes the channel once. Callers hold the broker lock, so no
// Publish can be sending concurrently.
func (s *Subscription) end() {
	s.endOnce.Do(func() { close(s.ch) })
}
