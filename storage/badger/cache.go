package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
)

// CacheRepository implements storage.CacheRepository for BadgerDB.
// Entries carry a Badger TTL so expired pages are eventually collected;
// freshness itself is decided by the caller against ExpiresAt.
type CacheRepository struct {
	backend *Backend
}

var _ storage.CacheRepository = (*CacheRepository)(nil)

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(backend *Backend) *CacheRepository {
	return &CacheRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is closed by its owner.
func (r *CacheRepository) Close() error {
	return nil
}

// GetEntry retrieves the entry for url.
func (r *CacheRepository) GetEntry(ctx context.Context, url string) (*core.CacheEntry, error) {
	var entry *core.CacheEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCacheKey(url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = storage.UnmarshalCacheEntry(val)
			return err
		})
	}, false)
	if err != nil {
		return nil, storageError("read cache entry", err)
	}
	return entry, nil
}

// PutEntry writes entry with a blind keyed set.
func (r *CacheRepository) PutEntry(ctx context.Context, entry *core.CacheEntry) error {
	value, err := storage.MarshalCacheEntry(entry)
	if err != nil {
		return err
	}
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		e := badger.NewEntry(makeCacheKey(entry.URL), value)
		if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
			e = e.WithTTL(ttl)
		}
		if err := tx.SetEntry(e); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return storageError("write cache entry", err)
}

// RecordHit increments the entry's hit count, keeping its Badger expiry.
func (r *CacheRepository) RecordHit(ctx context.Context, url string) error {
	key := makeCacheKey(url)
	err := r.backend.updateWithRetry(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}

		var entry *core.CacheEntry
		err = item.Value(func(val []byte) error {
			entry, err = storage.UnmarshalCacheEntry(val)
			return err
		})
		if err != nil {
			return err
		}
		entry.Hits++

		value, err := storage.MarshalCacheEntry(entry)
		if err != nil {
			return err
		}
		e := badger.NewEntry(key, value)
		e.ExpiresAt = item.ExpiresAt()
		if err := tx.SetEntry(e); err != nil {
			return err
		}
		return tx.Commit()
	})
	return storageError("record cache hit", err)
}

// DeleteEntry removes the entry for url.
func (r *CacheRepository) DeleteEntry(ctx context.Context, url string) error {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeCacheKey(url)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return storageError("delete cache entry", err)
}

// CountEntries counts entries that are still fresh at asOf.
func (r *CacheRepository) CountEntries(ctx context.Context, asOf time.Time) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cachePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				entry, err := storage.UnmarshalCacheEntry(val)
				if err != nil {
					return err
				}
				if entry.Fresh(asOf) {
					count++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return 0, storageError("count cache entries", err)
	}
	return count, nil
}
