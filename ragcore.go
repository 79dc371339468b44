// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ragcore wires the ingestion and retrieval components into one
// Engine built from a config.Config.
package ragcore

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/nats-io/nats.go"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/ai/openai"
	"github.com/poiesic/ragcore/cache"
	"github.com/poiesic/ragcore/config"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/embedding"
	"github.com/poiesic/ragcore/ingestion"
	"github.com/poiesic/ragcore/metrics"
	"github.com/poiesic/ragcore/progress"
	"github.com/poiesic/ragcore/reembed"
	"github.com/poiesic/ragcore/retrieval"
	"github.com/poiesic/ragcore/storage"
	"github.com/poiesic/ragcore/storage/badger"
	"github.com/poiesic/ragcore/storage/chromem"
)

// Engine owns every component of a running ragcore instance.
type Engine struct {
	cfg       *config.Config
	repos     *badger.Repositories
	vectors   storage.VectorRepository
	provider  ai.Provider
	batcher   *embedding.Batcher
	cache     *cache.Cache
	broker    *progress.Broker
	nats      *nats.Conn
	pipeline  *ingestion.Pipeline
	retrieval *retrieval.Engine
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	provider ai.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
func WithProvider(p ai.Provider) Option {
	return func(o *engineOptions) {
		o.provider = p
	}
}

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger handed to every component.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Open builds an Engine from cfg. With an empty cfg.DataDir all state is
// kept in memory.
func Open(cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = metrics.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		metrics: options.metrics,
		logger:  options.logger.With("component", "engine"),
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	// Storage
	backend, err := openBackend(cfg.DataDir)
	if err != nil {
		return nil, core.NewError(core.KindStorage, "open badger backend", err)
	}
	e.repos = badger.NewRepositories(backend)

	e.vectors = e.repos.Vectors
	if cfg.VectorBackend == config.BackendChromem {
		repo, err := openChromem(cfg.DataDir, options.logger)
		if err != nil {
			return nil, err
		}
		e.vectors = repo
	}

	// Embedding provider
	e.provider = options.provider
	if e.provider == nil {
		if e.provider, err = openai.NewProvider(cfg.AI()); err != nil {
			return nil, err
		}
	}
	e.batcher, err = embedding.NewBatcher(e.provider.Embedder(),
		embedding.WithBatchSize(cfg.EmbeddingBatchSize),
		embedding.WithMaxRetries(cfg.EmbeddingMaxRetries),
		embedding.WithCallTimeout(cfg.EmbeddingCallTimeout),
		embedding.WithRateLimit(cfg.EmbeddingRPS, cfg.EmbeddingBurst),
		embedding.WithMetrics(e.metrics),
		embedding.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}

	// Cache and progress
	e.cache, err = cache.New(e.repos.Cache,
		cache.WithTTL(cfg.CacheTTL()),
		cache.WithMetrics(e.metrics),
		cache.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}

	brokerOpts := []progress.Option{
		progress.WithBufferSize(cfg.ProgressBufferSize),
		progress.WithMetrics(e.metrics),
		progress.WithLogger(options.logger),
	}
	if cfg.NATSURL != "" {
		if e.nats, err = progress.ConnectNATS(cfg.NATSURL, options.logger); err != nil {
			return nil, err
		}
		brokerOpts = append(brokerOpts, progress.WithSink(e.nats))
	}
	if e.broker, err = progress.NewBroker(brokerOpts...); err != nil {
		return nil, err
	}

	// Ingestion and retrieval
	pipelineOpts := []ingestion.Option{
		ingestion.WithChunking(cfg.ChunkMaxChars, cfg.ChunkOverlapChars),
		ingestion.WithRequestTimeout(cfg.IngestRequestTimeout),
		ingestion.WithCache(e.cache),
		ingestion.WithBroker(e.broker),
		ingestion.WithMetrics(e.metrics),
		ingestion.WithLogger(options.logger),
	}
	if cfg.IngestPoolSize > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(cfg.IngestPoolSize))
	}
	if e.pipeline, err = ingestion.NewPipeline(e.repos.Sessions, e.vectors, e.batcher, pipelineOpts...); err != nil {
		return nil, err
	}

	retrievalOpts := []retrieval.Option{
		retrieval.WithMetrics(e.metrics),
		retrieval.WithLogger(options.logger),
	}
	if g := e.provider.AnswerGenerator(); g != nil {
		retrievalOpts = append(retrievalOpts, retrieval.WithAnswerGenerator(g))
	}
	if e.retrieval, err = retrieval.NewEngine(e.vectors, e.batcher, retrievalOpts...); err != nil {
		return nil, err
	}

	e.logger.Info("engine ready",
		"vector_backend", cfg.VectorBackend,
		"data_dir", cfg.DataDir,
		"embedding_model", e.batcher.Model(),
		"nats", cfg.NATSURL != "")
	return e, nil
}

func openBackend(dataDir string) (*badger.Backend, error) {
	if dataDir == "" {
		return badger.OpenBackend("", true)
	}
	return badger.OpenBackend(filepath.Join(dataDir, "badger"), false)
}

func openChromem(dataDir string, logger *slog.Logger) (*chromem.VectorRepository, error) {
	if dataDir == "" {
		return chromem.NewMemoryRepository(chromem.WithLogger(logger))
	}
	return chromem.Open(filepath.Join(dataDir, "chromem"), true, chromem.WithLogger(logger))
}

// Close stops the ingestion pool and releases storage and connections.
func (e *Engine) Close() error {
	var errs []error
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	if e.broker != nil {
		e.broker.Close()
	}
	if e.nats != nil {
		if err := e.nats.Drain(); err != nil {
			e.logger.Warn("error draining nats connection", "err", err)
		}
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	if e.vectors != nil && e.repos != nil && e.vectors != storage.VectorRepository(e.repos.Vectors) {
		if err := e.vectors.Close(); err != nil {
			e.logger.Error("error closing vector repository", "err", err)
			errs = append(errs, err)
		}
	}
	if e.repos != nil {
		if err := e.repos.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ingest starts an ingestion session and returns its ID.
func (e *Engine) Ingest(ctx context.Context, req ingestion.Request) (string, error) {
	return e.pipeline.Start(ctx, req)
}

// Query runs a retrieval query.
func (e *Engine) Query(ctx context.Context, req retrieval.QueryRequest) (*core.QueryResult, error) {
	return e.retrieval.Query(ctx, req)
}

// Reembed replaces the vectors of every chunk in projectID using the
// configured embedding model. report may be nil.
func (e *Engine) Reembed(ctx context.Context, projectID string, report reembed.Reporter) (*reembed.Result, error) {
	r, err := reembed.NewReembedder(e.vectors, e.batcher, &reembed.Config{
		BatchSize:      max(e.cfg.EmbeddingBatchSize, reembed.DefaultBatchSize),
		ReportInterval: e.cfg.EmbeddingBatchSize,
		Locker:         e.pipeline,
	}, report)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, projectID)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Pipeline returns the ingestion pipeline.
func (e *Engine) Pipeline() *ingestion.Pipeline {
	return e.pipeline
}

// Retrieval returns the query engine.
func (e *Engine) Retrieval() *retrieval.Engine {
	return e.retrieval
}

// Cache returns the web page cache.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Broker returns the progress broker.
func (e *Engine) Broker() *progress.Broker {
	return e.broker
}

// Metrics returns the metrics the components record into.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}
