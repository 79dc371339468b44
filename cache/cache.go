package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/metrics"
	"github.com/poiesic/ragcore/storage"
)

// DefaultTTL is the lifetime of an entry stored without an explicit TTL.
const DefaultTTL = 24 * time.Hour

// Fetcher turns a URL into page text. It is implemented by the scraping
// collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// LookupResult is the outcome of a Lookup. Entry is nil on a miss.
type LookupResult struct {
	Hit   bool
	Entry *core.CacheEntry
}

// Stats is a snapshot of the cache. HitRate is hits/(hits+misses), or 0
// before the first lookup.
type Stats struct {
	TotalEntries int     `json:"total_entries"`
	HitCount     int64   `json:"hit_count"`
	MissCount    int64   `json:"miss_count"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache is the web page cache. It is safe for concurrent use.
type Cache struct {
	repo    storage.CacheRepository
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache) error

// WithTTL sets the TTL used when Store is given none. Default is DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		c.ttl = ttl
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// WithMetrics mirrors hit, miss and store counts into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) error {
		c.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a cache over repo.
func New(repo storage.CacheRepository, opts ...Option) (*Cache, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	c := &Cache{
		repo:   repo,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "page-cache")
	return c, nil
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the entry for url if it exists and has not expired.
// Every call counts exactly one hit or one miss.
func (c *Cache) Lookup(ctx context.Context, url string) (LookupResult, error) {
	if err := validateURL(url); err != nil {
		return LookupResult{}, err
	}

	entry, err := c.repo.GetEntry(ctx, url)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.recordMiss()
		return LookupResult{}, nil
	case err != nil:
		c.logger.Warn("cache lookup failed, treating as miss", "url", url, "err", err)
		c.recordMiss()
		return LookupResult{}, nil
	case !entry.Fresh(c.now()):
		c.recordMiss()
		return LookupResult{}, nil
	}

	c.recordHit()
	if err := c.repo.RecordHit(ctx, url); err != nil {
		c.logger.Debug("could not record entry hit", "url", url, "err", err)
	} else {
		entry.Hits++
	}
	return LookupResult{Hit: true, Entry: entry}, nil
}

// Store writes content for url, replacing any previous entry and restarting
// its TTL. A non-positive ttl uses the cache default.
func (c *Cache) Store(ctx context.Context, url, content string, ttl time.Duration) (*core.CacheEntry, error) {
	if err := validateURL(url); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	now := c.now()
	entry := &core.CacheEntry{
		URL:         url,
		Content:     content,
		ContentHash: core.HashContent(content),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := c.repo.PutEntry(ctx, entry); err != nil {
		c.logger.Error("error storing cache entry", "url", url, "err", err)
		return nil, err
	}
	c.metrics.RecordCacheStore()
	return entry, nil
}

// Fetch returns the page text for url. Unless forceRefresh is set, a fresh
// cache entry is returned without calling fetcher. Fetched text is always
// stored with the default TTL. The boolean reports a cache hit.
func (c *Cache) Fetch(ctx context.Context, url string, forceRefresh bool, fetcher Fetcher) (*core.CacheEntry, bool, error) {
	if !forceRefresh {
		res, err := c.Lookup(ctx, url)
		if err != nil {
			return nil, false, err
		}
		if res.Hit {
			return res.Entry, true, nil
		}
	} else if err := validateURL(url); err != nil {
		return nil, false, err
	}

	if fetcher == nil {
		return nil, false, ErrFetcherRequired
	}
	content, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}
	entry, err := c.Store(ctx, url, content, 0)
	if err != nil {
		return nil, false, err
	}
	return entry, false, nil
}

// Invalidate removes the entry for url.
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	if err := validateURL(url); err != nil {
		return err
	}
	return c.repo.DeleteEntry(ctx, url)
}

// Stats returns the number of fresh entries and the aggregate counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	total, err := c.repo.CountEntries(ctx, c.now())
	if err != nil {
		return Stats{}, err
	}

	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := Stats{
		TotalEntries: total,
		HitCount:     hits,
		MissCount:    misses,
	}
	if hits+misses > 0 {
		stats.HitRate = float64(hits) / float64(hits+misses)
	}
	return stats, nil
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	c.metrics.RecordCacheHit()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	c.metrics.RecordCacheMiss()
}

func validateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return core.NewError(core.KindValidation, core.ErrEmptyURL.Error(), core.ErrEmptyURL)
	}
	return nil
}
