package badger

import "errors"

// Repositories bundles the Badger repositories sharing one backend.
type Repositories struct {
	Backend  *Backend
	Cache    *CacheRepository
	Vectors  *VectorRepository
	Sessions *SessionRepository
}

// NewRepositories creates all repositories on backend.
func NewRepositories(backend *Backend) *Repositories {
	return &Repositories{
		Backend:  backend,
		Cache:    NewCacheRepository(backend),
		Vectors:  NewVectorRepository(backend),
		Sessions: NewSessionRepository(backend),
	}
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must call Close when done.
func NewMemoryRepositories() (*Repositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return NewRepositories(backend), nil
}

// Close closes the repositories and then the backend.
func (r *Repositories) Close() error {
	return errors.Join(
		r.Sessions.Close(),
		r.Vectors.Close(),
		r.Cache.Close(),
		r.Backend.Close(),
	)
}
