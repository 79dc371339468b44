// Package metrics holds the Prometheus instruments shared by the ingestion
// and retrieval components.
//
// Every Record method is safe on a nil *Metrics, so components built without
// metrics pay nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragcore"

// Metrics holds Prometheus metrics for ragcore.
type Metrics struct {
	registry *prometheus.Registry

	// Web page cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheStoresTotal prometheus.Counter

	// Embedding provider
	EmbeddingCallsTotal   *prometheus.CounterVec
	EmbeddingRetriesTotal *prometheus.CounterVec
	EmbeddingCallDuration prometheus.Histogram
	EmbeddedTextsTotal    prometheus.Counter

	// Ingestion
	SessionsTotal        *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	ChunksStoredTotal    prometheus.Counter
	ProgressDroppedTotal prometheus.Counter

	// Retrieval
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram
}

// New creates metrics registered on a fresh registry, together with the Go
// runtime and process collectors.
//
// Metrics:
//   - ragcore_cache_hits_total - Count of fresh cache lookups
//   - ragcore_cache_misses_total - Count of absent or expired lookups
//   - ragcore_cache_stores_total - Count of cache writes
//   - ragcore_embedding_calls_total{outcome} - Provider calls by result variant
//   - ragcore_embedding_retries_total{kind} - Retried provider calls by error kind
//   - ragcore_embedding_call_duration_seconds - Histogram of provider latency
//   - ragcore_embedded_texts_total - Texts embedded successfully
//   - ragcore_ingestion_sessions_total{status} - Sessions by terminal status
//   - ragcore_ingestion_active_sessions - Sessions currently processing
//   - ragcore_ingestion_chunks_stored_total - Chunks persisted to the vector store
//   - ragcore_progress_dropped_total - Progress messages dropped on full buffers
//   - ragcore_queries_total{outcome} - Retrieval queries by outcome
//   - ragcore_query_duration_seconds - Histogram of retrieval latency
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewWithRegisterer(reg)
	m.registry = reg
	return m
}

// NewWithRegisterer registers the metrics on reg. Registering twice on the
// same registerer panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of fresh web page cache lookups",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of absent or expired web page cache lookups",
		}),
		CacheStoresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stores_total",
			Help:      "Total number of web page cache writes",
		}),
		EmbeddingCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_calls_total",
			Help:      "Total number of embedding provider calls by outcome",
		}, []string{"outcome"}), // "success", "rate_limited", "failure"
		EmbeddingRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "Total number of retried embedding provider calls by error kind",
		}, []string{"kind"}),
		EmbeddingCallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_call_duration_seconds",
			Help:      "Duration of embedding provider calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		EmbeddedTextsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedded_texts_total",
			Help:      "Total number of texts embedded successfully",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_sessions_total",
			Help:      "Total number of ingestion sessions by terminal status",
		}, []string{"status"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_active_sessions",
			Help:      "Number of ingestion sessions currently processing",
		}),
		ChunksStoredTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_chunks_stored_total",
			Help:      "Total number of chunks persisted to the vector store",
		}),
		ProgressDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_dropped_total",
			Help:      "Total number of progress messages dropped because an observer was slow",
		}),
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of retrieval queries by outcome",
		}, []string{"outcome"}), // "success", "error"
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of retrieval queries in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format. Metrics
// built with NewWithRegisterer fall back to the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheHit records a fresh cache lookup.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records an absent or expired cache lookup.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCacheStore records a cache write.
func (m *Metrics) RecordCacheStore() {
	if m == nil {
		return
	}
	m.CacheStoresTotal.Inc()
}

// RecordEmbeddingCall records one provider call with its outcome and latency.
func (m *Metrics) RecordEmbeddingCall(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EmbeddingCallsTotal.WithLabelValues(outcome).Inc()
	m.EmbeddingCallDuration.Observe(durationSeconds)
}

// RecordEmbeddingRetry records a retry after an error of the given kind.
func (m *Metrics) RecordEmbeddingRetry(kind string) {
	if m == nil {
		return
	}
	m.EmbeddingRetriesTotal.WithLabelValues(kind).Inc()
}

// RecordEmbeddedTexts records texts that received vectors.
func (m *Metrics) RecordEmbeddedTexts(n int) {
	if m == nil {
		return
	}
	m.EmbeddedTextsTotal.Add(float64(n))
}

// SessionStarted marks a session as processing.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionFinished records a session reaching a terminal status.
func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordChunksStored records chunks persisted by the pipeline.
func (m *Metrics) RecordChunksStored(n int) {
	if m == nil {
		return
	}
	m.ChunksStoredTotal.Add(float64(n))
}

// RecordProgressDropped records a progress message an observer never saw.
func (m *Metrics) RecordProgressDropped() {
	if m == nil {
		return
	}
	m.ProgressDroppedTotal.Inc()
}

// RecordQuery records one retrieval query.
func (m *Metrics) RecordQuery(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(durationSeconds)
}
