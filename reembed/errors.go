package reembed

import "errors"

var (
	// ErrVectorRepositoryRequired is returned when no vector repository is given.
	ErrVectorRepositoryRequired = errors.New("vector repository is required")

	// ErrEmbedderRequired is returned when no embedder is given.
	ErrEmbedderRequired = errors.New("embedder is required")
)
