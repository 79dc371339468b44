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

package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
)

// VectorRepository implements storage.VectorRepository for BadgerDB.
// Similarity search is a brute-force scan over the project's chunks.
type VectorRepository struct {
	backend *Backend
}

var _ storage.VectorRepository = (*VectorRepository)(nil)

// NewVectorRepository creates a new VectorRepository.
func NewVectorRepository(backend *Backend) *VectorRepository {
	return &VectorRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is closed by its owner.
func (r *VectorRepository) Close() error {
	return nil
}

// Upsert replaces the whole chunk set of key in one transaction.
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

	err = r.backend.updateWithRetry(func(tx *badger.Txn) error {
		record, err := checkDimension(tx, scope.ProjectID, key, dims)
		if err != nil {
			return err
		}
		if err := deleteContent(tx, scope.ProjectID, key); err != nil {
			return err
		}
		if err := putChunks(tx, scope, key, chunks); err != nil {
			return err
		}
		if record {
			if err := recordDimension(tx, scope.ProjectID, dims); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return storageError("upsert chunks", err)
}

// PutChunks adds or overwrites chunks of key by index.
func (r *VectorRepository) PutChunks(ctx context.Context, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.Index < 0 || int64(c.Index) > math.MaxUint32 {
			return core.Errorf(core.KindValidation, "%w: chunk index %d", storage.ErrInvalidQuery, c.Index)
		}
	}
	dims, err := chunkDimensions(chunks)
	if err != nil {
		return err
	}

	err = r.backend.updateWithRetry(func(tx *badger.Txn) error {
		record, err := checkDimension(tx, scope.ProjectID, key, dims)
		if err != nil {
			return err
		}
		if err := putChunks(tx, scope, key, chunks); err != nil {
			return err
		}
		if record {
			if err := recordDimension(tx, scope.ProjectID, dims); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return storageError("put chunks", err)
}

// DeleteContent removes every chunk of key.
func (r *VectorRepository) DeleteContent(ctx context.Context, scope core.TenantScope, key core.ContentKey) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}
	err := r.backend.updateWithRetry(func(tx *badger.Txn) error {
		if err := deleteContent(tx, scope.ProjectID, key); err != nil {
			return err
		}
		return tx.Commit()
	})
	return storageError("delete content", err)
}

// Chunks returns the chunks of key ordered by index.
func (r *VectorRepository) Chunks(ctx context.Context, scope core.TenantScope, key core.ContentKey) ([]core.Chunk, error) {
	if err := validateTarget(scope, key); err != nil {
		return nil, err
	}

	var chunks []core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanChunks(tx, makeContentPrefix(scope.ProjectID, key), func(c *core.Chunk) error {
			chunks = append(chunks, *c)
			return nil
		})
	}, false)
	if err != nil {
		return nil, storageError("read chunks", err)
	}
	return chunks, nil
}

// ContentHash returns the recorded source hash of key, or "".
func (r *VectorRepository) ContentHash(ctx context.Context, scope core.TenantScope, key core.ContentKey) (string, error) {
	if err := validateTarget(scope, key); err != nil {
		return "", err
	}

	var hash string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeContentHashKey(scope.ProjectID, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	}, false)
	if err != nil {
		return "", storageError("read content hash", err)
	}
	return hash, nil
}

// SetContentHash records the source hash of key's chunk set in the same
// transaction that checks the set exists.
func (r *VectorRepository) SetContentHash(ctx context.Context, scope core.TenantScope, key core.ContentKey, hash string) error {
	if err := validateTarget(scope, key); err != nil {
		return err
	}
	err := r.backend.updateWithRetry(func(tx *badger.Txn) error {
		if !hasContent(tx, makeContentPrefix(scope.ProjectID, key)) {
			return nil
		}
		if err := tx.Set(makeContentHashKey(scope.ProjectID, key), []byte(hash)); err != nil {
			return err
		}
		return tx.Commit()
	})
	return storageError("record content hash", err)
}

// ContentKeys returns the distinct content keys stored for the project.
func (r *VectorRepository) ContentKeys(ctx context.Context, scope core.TenantScope) ([]core.ContentKey, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	var keys []core.ContentKey
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makeProjectChunkPrefix(scope.ProjectID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key, _, ok := parseChunkKey(iter.Item().Key(), len(prefix))
			if !ok {
				continue
			}
			if n := len(keys); n == 0 || keys[n-1] != key {
				keys = append(keys, key)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, storageError("list content keys", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// Search ranks the scope's chunks by cosine similarity to query.
func (r *VectorRepository) Search(ctx context.Context, query []float32, candidates []core.ContentKey, topK int, scope core.TenantScope) ([]core.RankedChunk, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, core.NewError(core.KindValidation, core.ErrInvalidTopK.Error(), core.ErrInvalidTopK)
	}
	if len(query) == 0 {
		return nil, core.Errorf(core.KindValidation, "%w: empty query vector", storage.ErrInvalidQuery)
	}

	prefixes := [][]byte{makeProjectChunkPrefix(scope.ProjectID)}
	if len(candidates) > 0 {
		prefixes = prefixes[:0]
		for _, key := range uniqueKeys(candidates) {
			prefixes = append(prefixes, makeContentPrefix(scope.ProjectID, key))
		}
	}

	var results []core.RankedChunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, prefix := range prefixes {
			err := scanChunks(tx, prefix, func(c *core.Chunk) error {
				if len(c.Vector) == 0 {
					return nil
				}
				if scope.UserID != "" && c.UserID != scope.UserID {
					return nil
				}
				if len(c.Vector) != len(query) {
					return core.Errorf(core.KindValidation, "%w: query has %d dimensions, stored vectors have %d",
						storage.ErrDimensionMismatch, len(query), len(c.Vector))
				}
				results = append(results, core.RankedChunk{
					Chunk: *c,
					Score: cosineSimilarity(query, c.Vector),
				})
				return nil
			})
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, storageError("search chunks", err)
	}

	storage.SortRanked(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func validateScope(scope core.TenantScope) error {
	if err := core.ValidateScope(scope); err != nil {
		return err
	}
	if len(scope.ProjectID) > math.MaxUint16 {
		return core.Errorf(core.KindValidation, "project id longer than %d bytes", math.MaxUint16)
	}
	return nil
}

func validateTarget(scope core.TenantScope, key core.ContentKey) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if key == "" || len(key) > math.MaxUint16 {
		return core.NewError(core.KindValidation, storage.ErrEmptyContentKey.Error(), storage.ErrEmptyContentKey)
	}
	return nil
}

// chunkDimensions returns the shared vector length of chunks, ignoring
// chunks without vectors.
func chunkDimensions(chunks []core.Chunk) (int, error) {
	dims := 0
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			continue
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

// checkDimension rejects dims when it disagrees with the dimension recorded
// for the project, unless the project holds no chunks outside key. It
// reports whether dims must be recorded.
func checkDimension(tx *badger.Txn, projectID string, key core.ContentKey, dims int) (bool, error) {
	if dims == 0 {
		return false, nil
	}
	item, err := tx.Get(makeDimensionKey(projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var recorded int
	err = item.Value(func(val []byte) error {
		if len(val) != 4 {
			return storage.ErrTruncatedData
		}
		recorded = int(binary.BigEndian.Uint32(val))
		return nil
	})
	if err != nil {
		return false, err
	}
	if recorded == dims {
		return false, nil
	}

	occupied, err := hasOtherContent(tx, projectID, key)
	if err != nil {
		return false, err
	}
	if occupied {
		return false, core.Errorf(core.KindValidation, "%w: project %q stores %d dimensions, got %d",
			storage.ErrDimensionMismatch, projectID, recorded, dims)
	}
	return true, nil
}

func recordDimension(tx *badger.Txn, projectID string, dims int) error {
	if dims == 0 {
		return nil
	}
	return tx.Set(makeDimensionKey(projectID), binary.BigEndian.AppendUint32(nil, uint32(dims)))
}

func hasOtherContent(tx *badger.Txn, projectID string, key core.ContentKey) (bool, error) {
	prefix := makeProjectChunkPrefix(projectID)
	own := makeContentPrefix(projectID, key)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Item().Key(), own) {
			return true, nil
		}
	}
	return false, nil
}

func hasContent(tx *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	iter.Rewind()
	return iter.Valid()
}

func putChunks(tx *badger.Txn, scope core.TenantScope, key core.ContentKey, chunks []core.Chunk) error {
	for i := range chunks {
		c := chunks[i]
		c.ContentKey = key
		if c.UserID == "" {
			c.UserID = scope.UserID
		}
		value, err := storage.MarshalChunk(&c)
		if err != nil {
			return err
		}
		if err := tx.Set(makeChunkKey(scope.ProjectID, key, c.Index), value); err != nil {
			return err
		}
	}
	return nil
}

func deleteContent(tx *badger.Txn, projectID string, key core.ContentKey) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeContentPrefix(projectID, key)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	keys = append(keys, makeContentHashKey(projectID, key))

	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func scanChunks(tx *badger.Txn, prefix []byte, fn func(*core.Chunk) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		var chunk *core.Chunk
		err := iter.Item().Value(func(val []byte) error {
			var err error
			chunk, err = storage.UnmarshalChunk(val)
			return err
		})
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

func uniqueKeys(keys []core.ContentKey) []core.ContentKey {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
