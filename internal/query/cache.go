// Package query is a small read-through cache for remote data: keyed queries
// that poll while their data says work is outstanding, and mutations that
// invalidate cached entries on success.
package query

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"crawler-dashboard/internal/errs"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	maxRetryDelay       = 30 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// Key identifies a cache entry. The first element names the query family,
// e.g. {"analyses", "1", "10", ...}.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "\x1f")
}

// HasPrefix reports whether k starts with every element of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Options tune a Cache.
type Options struct {
	// StaleTime is how long fetched data satisfies Load without a new request.
	StaleTime time.Duration
	// Retry is the number of extra attempts a failed read gets.
	Retry int
	// RetryDelay is the base delay, doubled after each failed attempt.
	RetryDelay time.Duration
	// FetchTimeout bounds a shared fetch, retries included. Zero means 30s.
	FetchTimeout time.Duration
}

// DefaultOptions retries failed reads twice.
func DefaultOptions() Options {
	return Options{Retry: 2, RetryDelay: time.Second, FetchTimeout: defaultFetchTimeout}
}

type entry struct {
	key       Key
	data      any
	updatedAt time.Time
	invalid   bool
}

// generation counts invalidations of one key. A fetch started under an older
// generation is neither shared with newer readers nor stored.
type generation struct {
	key Key
	n   uint64
}

// Cache is shared by every query observing the same remote data.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	gens    map[string]*generation
	group   singleflight.Group
	opts    Options
	logger  *logrus.Logger
	now     func() time.Time
}

func NewCache(opts Options, logger *logrus.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		gens:    make(map[string]*generation),
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Invalidate marks every entry whose key starts with prefix as stale, so the
// next Load refetches it. Fetches already in flight for those keys are not
// joined by later readers and their responses are not cached. It returns the
// number of entries marked.
func (c *Cache) Invalidate(prefix ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range c.gens {
		if g.key.HasPrefix(prefix) {
			g.n++
		}
	}

	n := 0
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.invalid = true
			n++
		}
	}

	c.logger.Debugf("Invalidated %d cache entries under %v", n, prefix)
	return n
}

// IsStale reports whether key has no usable entry.
func (c *Cache) IsStale(key Key) bool {
	_, ok := c.fresh(key)
	return !ok
}

func (c *Cache) fresh(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok || e.invalid {
		return nil, false
	}
	if c.now().Sub(e.updatedAt) >= c.opts.StaleTime {
		return nil, false
	}
	return e.data, true
}

// generationLocked returns the invalidation counter for key, creating it.
func (c *Cache) generationLocked(key Key) *generation {
	k := key.String()
	g, ok := c.gens[k]
	if !ok {
		g = &generation{key: append(Key(nil), key...)}
		c.gens[k] = g
	}
	return g
}

// store caches data fetched under generation gen. It reports false, leaving
// the cache untouched, when key was invalidated after the fetch started.
func (c *Cache) store(key Key, gen uint64, data any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generationLocked(key).n != gen {
		return false
	}
	c.entries[key.String()] = &entry{
		key:       append(Key(nil), key...),
		data:      data,
		updatedAt: c.now(),
	}
	return true
}

func (c *Cache) fetchTimeout() time.Duration {
	if c.opts.FetchTimeout > 0 {
		return c.opts.FetchTimeout
	}
	return defaultFetchTimeout
}

// fetch runs fn for key, sharing the request with concurrent callers of the
// same key and generation, retrying retryable failures and storing a success
// in the cache. The shared request outlives any single caller's ctx; each
// caller stops waiting when its own ctx is done.
func (c *Cache) fetch(ctx context.Context, key Key, fn func(ctx context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	gen := c.generationLocked(key).n
	c.mu.Unlock()

	ch := c.group.DoChan(key.String()+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
		defer cancel()

		data, err := c.fetchWithRetry(shared, key, fn)
		if err != nil {
			return nil, err
		}
		if !c.store(key, gen, data) {
			c.logger.WithField("key", strings.Join(key, ",")).Debug("Dropped response for invalidated key")
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Cache) fetchWithRetry(ctx context.Context, key Key, fn func(ctx context.Context) (any, error)) (any, error) {
	delay := c.opts.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= c.opts.Retry; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"key":     strings.Join(key, ","),
				"attempt": attempt + 1,
			}).Debugf("Retrying fetch after error: %v", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		data, err := fn(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			break
		}
	}

	return nil, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch errs.KindOf(err) {
	case errs.Unauthorized, errs.NotFound, errs.Validation:
		return false
	}
	return true
}
