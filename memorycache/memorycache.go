// Package memorycache is the in-memory reference implementation of the
// cachemw.Backend contract, adapted from the teacher's two-tier LRU cache:
// here it is the whole backend rather than one tier, since the separation of
// "which backend" from "the cache middleware's decision logic" belongs at
// the cachemw.Backend seam, not inside the middleware itself.
package memorycache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	payload   []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Backend is a concurrency-safe, bounded LRU cache with per-entry TTL.
// Expiry is lazy: an expired entry is evicted when looked up, matching
// spec.md's invariant that try_get is what observes expiry, or when Purge
// is called.
type Backend struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
}

// New creates a Backend holding at most maxEntries live entries (least
// recently used entries are evicted first once the cache is full). A
// maxEntries of 0 or less defaults to 1000, matching the teacher's default.
func New(maxEntries int) (*Backend, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Backend{cache: c}, nil
}

// Add implements cachemw.Backend.
func (b *Backend) Add(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Add(key, entry{payload: payload, expiresAt: time.Now().Add(ttl)})
	return nil
}

// TryGet implements cachemw.Backend.
func (b *Backend) TryGet(ctx context.Context, key string) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.cache.Get(key)
	if !ok {
		return false, nil, nil
	}
	if e.expired(time.Now()) {
		b.cache.Remove(key)
		return false, nil, nil
	}
	return true, e.payload, nil
}

// Clear implements cachemw.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Purge()
	return nil
}

// Purge drops any entries that have already expired without waiting for a
// lookup to discover them. A long-running process can call this from a
// periodic ticker the way the teacher's CacheMiddleware.StartPurger does.
func (b *Backend) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for _, key := range b.cache.Keys() {
		if e, ok := b.cache.Peek(key); ok && e.expired(now) {
			b.cache.Remove(key)
		}
	}
}
