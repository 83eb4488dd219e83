package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is the cache lifetime used when a caller does not specify one.
// Debug builds typically construct the cache with a much shorter TTL so
// remote data can be re-fetched quickly while iterating.
const DefaultTTL = 30 * time.Second

// entry is a single cached value with its expiry deadline.
type entry struct {
	value    any
	expireAt time.Time
}

// flight tracks an in-progress fallback computation so that concurrent
// callers of the same key share one result instead of issuing duplicates.
type flight struct {
	done  chan struct{}
	value any
	err   error
}

// Cache is an expiring in-memory key-value store used to memoize remote
// reads. Eviction is time-based only: entries live until their TTL passes
// and are removed lazily on access or via RemoveAll. There is no size bound.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	inflight   map[string]*flight
	defaultTTL time.Duration
}

// New creates a Cache with the given default TTL. A non-positive defaultTTL
// falls back to DefaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		inflight:   make(map[string]*flight),
		defaultTTL: defaultTTL,
	}
}

// Set inserts or overwrites the entry for key and returns the previous
// value, if any. A non-positive ttl deletes the key instead, acting as an
// explicit invalidation.
func (c *Cache) Set(key string, value any, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.liveEntry(key)

	if ttl <= 0 {
		delete(c.entries, key)
		return prev, had
	}

	c.entries[key] = entry{
		value:    value,
		expireAt: time.Now().Add(ttl),
	}
	return prev, had
}

// Get returns the value for key if present and unexpired. An expired entry
// is removed as a side effect and reported as absent.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveEntry(key)
}

// GetAndFallback returns the cached value for key if one is live. Otherwise
// it invokes compute, stores the result under key with the given ttl (the
// default TTL when ttl is non-positive), and returns it. Concurrent calls
// for the same key share a single in-flight computation; every waiter
// receives the leader's result. A failed computation is never cached, so
// the next call retries immediately.
func (c *Cache) GetAndFallback(
	ctx context.Context,
	key string,
	ttl time.Duration,
	compute func(ctx context.Context) (any, error),
) (any, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	if value, ok := c.liveEntry(key); ok {
		c.mu.Unlock()
		return value, nil
	}

	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.value, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	value, err := compute(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = entry{
			value:    value,
			expireAt: time.Now().Add(ttl),
		}
	}
	c.mu.Unlock()

	f.value = value
	f.err = err
	close(f.done)

	return value, err
}

// RemoveAll deletes every entry whose key satisfies match and returns the
// number of entries removed. It is used to invalidate a whole namespace,
// such as all entries belonging to one account.
func (c *Cache) RemoveAll(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// liveEntry returns the unexpired value for key, lazily evicting an expired
// entry. Callers must hold c.mu.
func (c *Cache) liveEntry(key string) (any, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expireAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}
