package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
)

const (
	metaContentKey = "content_key"
	metaChunkIndex = "chunk_index"
	metaSourceURL  = "source_url"
	metaUserID     = "user_id"
	metaChunkCount = "chunks"
	metaDimensions = "dims"
	metaSourceHash = "source_hash"

	chunkCollectionPrefix    = "chunks/"
	manifestCollectionPrefix = "keys/"
)

// manifestVector is the embedding of every manifest document. All manifest
// documents are equally similar to it, so a query returns the whole manifest.
var manifestVector = []float32{1}

// errNoEmbedder is returned if chromem-go ever asks for an embedding; every
// document is stored with its vector.
var errNoEmbedder = errors.New("chromem repository stores precomputed vectors only")

// Option configures a VectorRepository.
type Option func(*VectorRepository) error

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *VectorRepository) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// VectorRepository implements storage.VectorRepository on chromem-go.
// Multi-document operations hold a repository-wide lock so an Upsert is
// observed either entirely or not at all by readers in this process.
type VectorRepository struct {
	db     *chromem.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ storage.VectorRepository = (*VectorRepository)(nil)

// NewVectorRepository wraps an open chromem database.
func NewVectorRepository(db *chromem.DB, opts ...Option) (*VectorRepository, error) {
	if db == nil {
		return nil, core.Errorf(core.KindConfiguration, "chromem database is required")
	}
	r := &VectorRepository{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "chromem-vectors")
	return r, nil
}

// NewMemoryRepository creates a repository backed by an in-memory database.
func NewMemoryRepository(opts ...Option) (*VectorRepository, error) {
	return NewVectorRepository(chromem.NewDB(), opts...)
}

// Open creates a repository persisted under dir, loading any existing data.
func Open(dir string, compress bool, opts ...Option) (*VectorRepository, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, core.NewError(core.KindStorage, fmt.Sprintf("open chromem database at %s", dir), err)
	}
	return NewVectorRepository(db, opts...)
}

// Close marks the repository closed. Later calls fail with ErrStorageClosed.
func (r *VectorRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Upsert replaces the whole chunk set of key.
func (r *VectorRepository) Upsert(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}
	if err := core.ValidateChunks(chunks); err != nil {
		return err
	}
	dims, err := chunkDimensions(chunks)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storageError("upsert chunks", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return storageError("upsert chunks", err)
	}
	if err := checkDimension(ctx, cols.manifest, key, dims); err != nil {
		return err
	}
	if err := cols.deleteContent(ctx, key); err != nil {
		return storageError("upsert chunks", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := cols.putChunks(ctx, scope, key, chunks, len(chunks), dims, ""); err != nil {
		return storageError("upsert chunks", err)
	}
	r.logger.Debug("upserted chunks", "project", scope.ProjectID, "content_key", key, "count", len(chunks))
	return nil
}

// PutChunks adds or overwrites chunks of key by index.
func (r *VectorRepository) PutChunks(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.Index < 0 {
			return core.Errorf(core.KindValidation, "%w: chunk index %d", storage.ErrInvalidQuery, c.Index)
		}
	}
	dims, err := chunkDimensions(chunks)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storageError("put chunks", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return storageError("put chunks", err)
	}
	if err := checkDimension(ctx, cols.manifest, key, dims); err != nil {
		return err
	}

	count, hash := 0, ""
	if entry, err := cols.manifest.GetByID(ctx, string(key)); err == nil {
		count, _ = strconv.Atoi(entry.Metadata[metaChunkCount])
		hash = entry.Metadata[metaSourceHash]
	}
	for _, c := range chunks {
		count = max(count, c.Index+1)
	}
	if err := cols.putChunks(ctx, scope, key, chunks, count, dims, hash); err != nil {
		return storageError("put chunks", err)
	}
	return nil
}

// DeleteContent removes every chunk of key.
func (r *VectorRepository) DeleteContent(ctx context.Context, scope core.TenantScope, key core.ContentKey) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storageError("delete content", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return storageError("delete content", err)
	}
	return storageError("delete content", cols.deleteContent(ctx, key))
}

// Chunks returns the chunks of key ordered by index.
func (r *VectorRepository) Chunks(ctx context.Context, scope core.TenantScope, key core.ContentKey) ([]core.Chunk, error) {
	if err := validateTarget(scope, key); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, storageError("read chunks", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return nil, storageError("read chunks", err)
	}
	entry, err := cols.manifest.GetByID(ctx, string(key))
	if err != nil {
		return nil, nil
	}
	count, _ := strconv.Atoi(entry.Metadata[metaChunkCount])

	var chunks []core.Chunk
	for i := range count {
		doc, err := cols.chunks.GetByID(ctx, chunkID(key, i))
		if err != nil {
			continue
		}
		chunks = append(chunks, toChunk(doc.Content, doc.Metadata, doc.Embedding))
	}
	return chunks, nil
}

// ContentHash returns the recorded source hash of key, or "".
func (r *VectorRepository) ContentHash(ctx context.Context, scope core.TenantScope, key core.ContentKey) (string, error) {
	if err := validateTarget(scope, key); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return "", storageError("read content hash", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return "", storageError("read content hash", err)
	}
	entry, err := cols.manifest.GetByID(ctx, string(key))
	if err != nil {
		return "", nil
	}
	return entry.Metadata[metaSourceHash], nil
}

// SetContentHash records the source hash on the manifest entry of key.
func (r *VectorRepository) SetContentHash(ctx context.Context, scope core.TenantScope, key core.ContentKey, hash string) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storageError("record content hash", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return storageError("record content hash", err)
	}
	entry, err := cols.manifest.GetByID(ctx, string(key))
	if err != nil {
		return nil
	}
	meta := maps.Clone(entry.Metadata)
	meta[metaSourceHash] = hash
	return storageError("record content hash", cols.manifest.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Content,
		Embedding: manifestVector,
		Metadata:  meta,
	}))
}

// ContentKeys returns the content keys stored for the project.
func (r *VectorRepository) ContentKeys(ctx context.Context, scope core.TenantScope) ([]core.ContentKey, error) {
	if err := core.ValidateScope(scope); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, storageError("list content keys", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return nil, storageError("list content keys", err)
	}
	entries, err := manifestEntries(ctx, cols.manifest)
	if err != nil {
		return nil, storageError("list content keys", err)
	}

	keys := make([]core.ContentKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, core.ContentKey(e.Metadata[metaContentKey]))
	}
	slices.Sort(keys)
	return keys, nil
}

// Search ranks the scope's chunks by cosine similarity to query.
func (r *VectorRepository) Search(ctx context.Context, query []float32, candidates []core.ContentKey, topK int, scope core.TenantScope) ([]core.RankedChunk, error) {
	if err := core.ValidateScope(scope); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, core.NewError(core.KindValidation, core.ErrInvalidTopK.Error(), core.ErrInvalidTopK)
	}
	if len(query) == 0 {
		return nil, core.Errorf(core.KindValidation, "%w: empty query vector", storage.ErrInvalidQuery)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, storageError("search chunks", storage.ErrStorageClosed)
	}

	cols, err := r.collections(scope.ProjectID)
	if err != nil {
		return nil, storageError("search chunks", err)
	}
	total := cols.chunks.Count()
	if total == 0 {
		return nil, nil
	}

	dims, err := projectDimension(ctx, cols.manifest)
	if err != nil {
		return nil, storageError("search chunks", err)
	}
	if dims != 0 && dims != len(query) {
		return nil, core.Errorf(core.KindValidation, "%w: query has %d dimensions, stored vectors have %d",
			storage.ErrDimensionMismatch, len(query), dims)
	}

	var where map[string]string
	if scope.UserID != "" {
		where = map[string]string{metaUserID: scope.UserID}
	}

	// chromem-go filters on a single value per field, so candidate keys are
	// applied after ranking the whole project.
	hits, err := cols.chunks.QueryEmbedding(ctx, query, total, where, nil)
	if err != nil {
		return nil, storageError("search chunks", err)
	}

	allowed := make(map[core.ContentKey]struct{}, len(candidates))
	for _, k := range candidates {
		allowed[k] = struct{}{}
	}

	results := make([]core.RankedChunk, 0, len(hits))
	for _, h := range hits {
		chunk := toChunk(h.Content, h.Metadata, h.Embedding)
		if len(allowed) > 0 {
			if _, ok := allowed[chunk.ContentKey]; !ok {
				continue
			}
		}
		results = append(results, core.RankedChunk{
			Chunk: chunk,
			Score: min(max(h.Similarity, -1), 1),
		})
	}

	storage.SortRanked(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

type projectCollections struct {
	chunks   *chromem.Collection
	manifest *chromem.Collection
}

func (r *VectorRepository) collections(projectID string) (*projectCollections, error) {
	chunks, err := r.db.GetOrCreateCollection(chunkCollectionPrefix+projectID, nil, refuseEmbedding)
	if err != nil {
		return nil, err
	}
	manifest, err := r.db.GetOrCreateCollection(manifestCollectionPrefix+projectID, nil, refuseEmbedding)
	if err != nil {
		return nil, err
	}
	return &projectCollections{chunks: chunks, manifest: manifest}, nil
}

func (p *projectCollections) putChunks(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk, count, dims int, hash string) error {
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		userID := c.UserID
		if userID == "" {
			userID = scope.UserID
		}
		docs[i] = chromem.Document{
			ID:        chunkID(key, c.Index),
			Content:   c.Text,
			Embedding: slices.Clone(c.Vector),
			Metadata: map[string]string{
				metaContentKey: string(key),
				metaChunkIndex: strconv.Itoa(c.Index),
				metaSourceURL:  c.SourceURL,
				metaUserID:     userID,
			},
		}
	}
	if err := p.chunks.AddDocuments(ctx, docs, 1); err != nil {
		return err
	}
	return p.manifest.AddDocument(ctx, chromem.Document{
		ID:        string(key),
		Content:   string(key),
		Embedding: manifestVector,
		Metadata: map[string]string{
			metaContentKey: string(key),
			metaChunkCount: strconv.Itoa(count),
			metaDimensions: strconv.Itoa(dims),
			metaSourceHash: hash,
		},
	})
}

func (p *projectCollections) deleteContent(ctx context.Context, key core.ContentKey) error {
	if err := p.chunks.Delete(ctx, map[string]string{metaContentKey: string(key)}, nil); err != nil {
		return err
	}
	return p.manifest.Delete(ctx, nil, nil, string(key))
}

// checkDimension rejects dims when another content key of the project was
// stored with a different dimension.
func checkDimension(ctx context.Context, manifest *chromem.Collection, key core.ContentKey, dims int) error {
	if dims == 0 {
		return nil
	}
	entries, err := manifestEntries(ctx, manifest)
	if err != nil {
		return storageError("check dimension", err)
	}
	for _, e := range entries {
		if e.ID == string(key) {
			continue
		}
		recorded, _ := strconv.Atoi(e.Metadata[metaDimensions])
		if recorded != 0 && recorded != dims {
			return core.Errorf(core.KindValidation, "%w: project stores %d dimensions, got %d",
				storage.ErrDimensionMismatch, recorded, dims)
		}
	}
	return nil
}

func projectDimension(ctx context.Context, manifest *chromem.Collection) (int, error) {
	entries, err := manifestEntries(ctx, manifest)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if dims, _ := strconv.Atoi(e.Metadata[metaDimensions]); dims != 0 {
			return dims, nil
		}
	}
	return 0, nil
}

func manifestEntries(ctx context.Context, manifest *chromem.Collection) ([]chromem.Result, error) {
	n := manifest.Count()
	if n == 0 {
		return nil, nil
	}
	return manifest.QueryEmbedding(ctx, manifestVector, n, nil, nil)
}

// chunkDimensions returns the shared vector length of chunks. Every chunk
// must carry a vector.
func chunkDimensions(chunks []core.Chunk) (int, error) {
	dims := 0
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			return 0, core.Errorf(core.KindValidation, "%w: chunk %d", storage.ErrMissingVector, c.Index)
		}
		if dims == 0 {
			dims = len(c.Vector)
		}
		if len(c.Vector) != dims {
			return 0, core.Errorf(core.KindValidation, "%w: chunk %d has %d, want %d",
				storage.ErrDimensionMismatch, c.Index, len(c.Vector), dims)
		}
	}
	return dims, nil
}

func toChunk(text string, meta map[string]string, vector []float32) core.Chunk {
	index, err := strconv.Atoi(meta[metaChunkIndex])
	if err != nil {
		index = -1
	}
	return core.Chunk{
		ContentKey: core.ContentKey(meta[metaContentKey]),
		Index:      index,
		Text:       text,
		Vector:     slices.Clone(vector),
		SourceURL:  meta[metaSourceURL],
		UserID:     meta[metaUserID],
	}
}

func chunkID(key core.ContentKey, index int) string {
	return string(key) + ":" + strconv.Itoa(index)
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func validateTarget(scope core.TenantScope, key core.ContentKey) error {
	if err := core.ValidateScope(scope); err != nil {
		return err
	}
	if key == "" {
		return core.NewError(core.KindValidation, storage.ErrEmptyContentKey.Error(), storage.ErrEmptyContentKey)
	}
	return nil
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *core.Error
	if errors.As(err, &classified) {
		return err
	}
	return core.NewError(core.KindStorage, op, err)
}
