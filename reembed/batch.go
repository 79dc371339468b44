package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/embedding"
	"github.com/poiesic/ragcore/storage"
)

// Embedder turns chunk texts into vectors, one per text in input order.
// *embedding.Batcher satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (*embedding.Batcher)(nil)

// BatchProcessor re-embeds batches of chunks and writes them back.
type BatchProcessor struct {
	repo     storage.VectorRepository
	embedder Embedder
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(repo storage.VectorRepository, embedder Embedder) *BatchProcessor {
	return &BatchProcessor{
		repo:     repo,
		embedder: embedder,
	}
}

// Process embeds the text of each chunk and overwrites the stored chunks of
// key with the new vectors. Vectors are normalized before they are stored.
func (bp *BatchProcessor) Process(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := bp.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings for %s: %w", key, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(vectors))
	}

	updated := make([]core.Chunk, len(chunks))
	for i, chunk := range chunks {
		chunk.Vector = embedding.NormalizeVector(vectors[i])
		updated[i] = chunk
	}

	if err := bp.repo.PutChunks(ctx, scope, key, updated); err != nil {
		return fmt.Errorf("failed to update chunks of %s: %w", key, err)
	}
	return nil
}
