package badger

import (
	"context"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/storage"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is closed by its owner.
func (r *SessionRepository) Close() error {
	return nil
}

// CreateSession stores a new session and indexes it under its project.
func (r *SessionRepository) CreateSession(ctx context.Context, session *core.IngestionSession) error {
	if session.ID == "" {
		return core.Errorf(core.KindValidation, "session id cannot be empty")
	}
	if err := core.ValidateScope(session.Scope); err != nil {
		return err
	}
	value, err := storage.MarshalSession(session)
	if err != nil {
		return err
	}

	// A conflicting commit can only come from another writer of the same ID,
	// so the retry reports it as a duplicate.
	err = r.backend.updateWithRetry(func(tx *badger.Txn) error {
		key := makeSessionKey(session.ID)
		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrDuplicateKey
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(key, value); err != nil {
			return err
		}
		indexKey := makeSessionIndexKey(session.Scope.ProjectID, session.CreatedAt, session.ID)
		if err := tx.Set(indexKey, nil); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, badger.ErrConflict) {
		err = storage.ErrDuplicateKey
	}
	return storageError("create session", err)
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.IngestionSession, error) {
	var session *core.IngestionSession
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		session, err = readSession(tx, id)
		return err
	}, false)
	if err != nil {
		return nil, storageError("read session", err)
	}
	return session, nil
}

// UpdateSession overwrites the session when its stored status still equals
// expected. Status changes must follow the session lifecycle.
func (r *SessionRepository) UpdateSession(ctx context.Context, expected core.SessionStatus, session *core.IngestionSession) error {
	value, err := storage.MarshalSession(session)
	if err != nil {
		return err
	}

	err = r.backend.updateWithRetry(func(tx *badger.Txn) error {
		current, err := readSession(tx, session.ID)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return storage.ErrStatusConflict
		}
		if session.Status != current.Status && !current.Status.CanTransition(session.Status) {
			return core.Errorf(core.KindValidation, "%w: %s -> %s", core.ErrInvalidTransition, current.Status, session.Status)
		}
		if current.Status.Terminal() {
			return storage.ErrStatusConflict
		}

		if err := tx.Set(makeSessionKey(session.ID), value); err != nil {
			return err
		}
		return tx.Commit()
	})
	return storageError("update session", err)
}

// ListSessions returns the project's sessions, newest first.
func (r *SessionRepository) ListSessions(ctx context.Context, projectID string) ([]*core.IngestionSession, error) {
	var sessions []*core.IngestionSession
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makeSessionProjectPrefix(projectID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			id := string(key[len(prefix)+8:]) // skip 8-byte timestamp
			session, err := readSession(tx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return nil
	}, false)
	if err != nil {
		return nil, storageError("list sessions", err)
	}

	slices.Reverse(sessions)
	return sessions, nil
}

func readSession(tx *badger.Txn, id string) (*core.IngestionSession, error) {
	item, err := tx.Get(makeSessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var session *core.IngestionSession
	err = item.Value(func(val []byte) error {
		session, err = storage.UnmarshalSession(val)
		return err
	})
	return session, err
}
