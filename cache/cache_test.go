package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/metrics"
	"github.com/poiesic/ragcore/storage"
	"github.com/poiesic/ragcore/storage/badger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for TTL boundary tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *fakeClock) {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	clock := &fakeClock{now: time.Now()}
	c, err := New(repos.Cache, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

// failingRepo fails every read.
type failingRepo struct {
	storage.CacheRepository
}

func (failingRepo) GetEntry(context.Context, string) (*core.CacheEntry, error) {
	return nil, core.NewError(core.KindStorage, "disk on fire", nil)
}

func TestLookupTTLBoundary(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)
	t0 := clock.Now()

	_, err := c.Store(ctx, "https://example.com", "page", 24*time.Hour)
	require.NoError(t, err)

	clock.Set(t0.Add(23 * time.Hour))
	res, err := c.Lookup(ctx, "https://example.com")
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, "page", res.Entry.Content)
	assert.Equal(t, int64(1), res.Entry.Hits)

	clock.Set(t0.Add(24 * time.Hour))
	res, err = c.Lookup(ctx, "https://example.com")
	require.NoError(t, err)
	assert.False(t, res.Hit, "expiry instant is a miss")

	clock.Set(t0.Add(25 * time.Hour))
	res, err = c.Lookup(ctx, "https://example.com")
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Nil(t, res.Entry)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(2), stats.MissCount)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
	assert.Zero(t, stats.TotalEntries, "expired entries are not counted")
}

func TestStoreResetsTTLAndHits(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)
	t0 := clock.Now()

	_, err := c.Store(ctx, "https://a", "v1", time.Hour)
	require.NoError(t, err)
	_, err = c.Lookup(ctx, "https://a")
	require.NoError(t, err)

	clock.Set(t0.Add(50 * time.Minute))
	entry, err := c.Store(ctx, "https://a", "v2", time.Hour)
	require.NoError(t, err)
	assert.True(t, t0.Add(110*time.Minute).Equal(entry.ExpiresAt))
	assert.Equal(t, core.HashContent("v2"), entry.ContentHash)

	clock.Set(t0.Add(100 * time.Minute))
	res, err := c.Lookup(ctx, "https://a")
	require.NoError(t, err)
	require.True(t, res.Hit)
	assert.Equal(t, "v2", res.Entry.Content)
	assert.Equal(t, int64(1), res.Entry.Hits, "per-entry hits restart on store")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries, "one entry per URL")
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, url string) (string, error) {
		n := calls.Add(1)
		if n == 1 {
			return "first", nil
		}
		return "fresh", nil
	})

	t.Run("miss then hit", func(t *testing.T) {
		calls.Store(0)
		c, _ := newTestCache(t)

		entry, hit, err := c.Fetch(ctx, "https://a", false, fetcher)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "first", entry.Content)

		entry, hit, err = c.Fetch(ctx, "https://a", false, fetcher)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "first", entry.Content)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("force refresh never reads and resets ttl", func(t *testing.T) {
		calls.Store(0)
		c, clock := newTestCache(t, WithTTL(time.Hour))
		t0 := clock.Now()

		_, _, err := c.Fetch(ctx, "https://a", false, fetcher)
		require.NoError(t, err)

		clock.Set(t0.Add(30 * time.Minute))
		entry, hit, err := c.Fetch(ctx, "https://a", true, fetcher)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "fresh", entry.Content)
		assert.True(t, t0.Add(90*time.Minute).Equal(entry.ExpiresAt))

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.HitCount, "forced refresh bypasses lookup")
		assert.Equal(t, int64(1), stats.MissCount)
	})

	t.Run("fetcher errors propagate", func(t *testing.T) {
		c, _ := newTestCache(t)
		boom := errors.New("boom")
		_, _, err := c.Fetch(ctx, "https://a", false, FetcherFunc(func(context.Context, string) (string, error) {
			return "", boom
		}))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil fetcher", func(t *testing.T) {
		c, _ := newTestCache(t)
		_, _, err := c.Fetch(ctx, "https://a", true, nil)
		assert.ErrorIs(t, err, ErrFetcherRequired)
	})
}

func TestLookupStorageFailureIsMiss(t *testing.T) {
	m := metrics.New()
	c, err := New(failingRepo{}, WithMetrics(m))
	require.NoError(t, err)

	res, err := c.Lookup(context.Background(), "https://a")
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
}

func TestConcurrentCounters(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	c, _ := newTestCache(t, WithMetrics(m))
	_, err := c.Store(ctx, "https://hit", "x", time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := "https://miss"
			if i%2 == 0 {
				url = "https://hit"
			}
			_, err := c.Lookup(ctx, url)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), stats.HitCount)
	assert.Equal(t, int64(25), stats.MissCount)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 25.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheStoresTotal))
}

func TestInvalidateAndValidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, err := c.Store(ctx, "https://a", "x", 0)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "https://a"))

	res, err := c.Lookup(ctx, "https://a")
	require.NoError(t, err)
	assert.False(t, res.Hit)

	_, err = c.Lookup(ctx, " ")
	assert.ErrorIs(t, err, core.ErrEmptyURL)
	_, err = c.Store(ctx, "", "x", 0)
	assert.ErrorIs(t, err, core.ErrEmptyURL)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.HitRate)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)
	_, err = New(failingRepo{}, WithTTL(0))
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
