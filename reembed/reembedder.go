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

package reembed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/progress"
	"github.com/poiesic/ragcore/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks embedded and written together
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// Locker, when set, holds each content key while its chunks are
	// re-embedded so a concurrent ingestion of the key never interleaves.
	Locker Locker
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID       string
	ContentKeys int
	Chunks      int
	Elapsed     time.Duration
}

// Reporter receives progress messages. The run ID stands in for the session ID.
type Reporter func(core.ProgressMessage)

// Reembedder re-embeds every chunk stored for a project.
type Reembedder struct {
	config    *Config
	report    Reporter
	processor *BatchProcessor
	iterator  *ChunkIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder. A nil config selects DefaultConfig
// and a nil report discards progress.
func NewReembedder(repo storage.VectorRepository, embedder Embedder, config *Config, report Reporter) (*Reembedder, error) {
	if repo == nil {
		return nil, ErrVectorRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if report == nil {
		report = func(core.ProgressMessage) {}
	}

	iterator := NewChunkIterator(repo, config.BatchSize)
	iterator.locker = config.Locker

	return &Reembedder{
		config:    config,
		report:    report,
		processor: NewBatchProcessor(repo, embedder),
		iterator:  iterator,
		logger:    slog.Default().With("component", "reembed"),
	}, nil
}

// Run re-embeds every chunk of projectID. Chunks written before a failure
// keep their new vectors.
func (r *Reembedder) Run(ctx context.Context, projectID string) (*Result, error) {
	scope := core.TenantScope{ProjectID: projectID}
	if err := core.ValidateScope(scope); err != nil {
		return nil, err
	}

	total, err := r.iterator.Count(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	result := &Result{RunID: uuid.NewString()}
	tracker := progress.NewTracker(result.RunID, projectID, nil)
	tracker.Start()
	if err := tracker.SetTotal(total); err != nil {
		return nil, err
	}

	if total == 0 {
		r.report(tracker.Message(core.StatusCompleted, "no chunks stored"))
		return result, nil
	}

	r.logger.Info("starting reembedding", "project", projectID, "chunks", total, "batch_size", r.iterator.batchSize)
	r.report(tracker.Message(core.StatusProcessing, fmt.Sprintf("re-embedding %d chunks", total)))

	var lastKey core.ContentKey
	lastReported := 0
	err = r.iterator.ForEach(ctx, scope, func(key core.ContentKey, chunks []core.Chunk) error {
		if err := r.processor.Process(ctx, scope, key, chunks); err != nil {
			return err
		}
		if key != lastKey {
			result.ContentKeys++
			lastKey = key
		}
		result.Chunks += len(chunks)
		tracker.Update(result.Chunks)

		if result.Chunks-lastReported >= r.config.ReportInterval {
			r.report(tracker.Message(core.StatusProcessing, fmt.Sprintf("re-embedded %d of %d chunks", result.Chunks, total)))
			lastReported = result.Chunks
		}
		return nil
	})
	result.Elapsed = tracker.Elapsed()

	if err != nil {
		message := fmt.Sprintf("%d of %d chunks re-embedded: %v", result.Chunks, total, err)
		r.report(tracker.Message(core.StatusError, message))
		r.logger.Error("reembedding failed", "project", projectID, "chunks", result.Chunks, "err", err)
		return result, err
	}

	r.report(tracker.Message(core.StatusCompleted, fmt.Sprintf("re-embedded %d chunks", result.Chunks)))
	r.logger.Info("reembedding complete", "project", projectID, "content_keys", result.ContentKeys,
		"chunks", result.Chunks, "elapsed", result.Elapsed)
	return result, nil
}
