package cache

import "errors"

var (
	// ErrRepositoryRequired is returned when a cache repository is not provided.
	ErrRepositoryRequired = errors.New("cache repository required")

	// ErrFetcherRequired is returned when Fetch needs to fetch without a fetcher.
	ErrFetcherRequired = errors.New("fetcher required")

	// ErrInvalidTTL is returned for a non-positive TTL.
	ErrInvalidTTL = errors.New("ttl must be greater than zero")
)
