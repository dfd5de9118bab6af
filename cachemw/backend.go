// Package cachemw implements the header-driven cache middleware (spec C4):
// a per-request decision of whether to serve from a keyed store, force a
// network refresh, bypass caching entirely, or populate the store from a
// successful response.
package cachemw

import (
	"context"
	"time"

	"github.com/allaspectsdev/mallard/exchange"
)

// Backend is the external keyed-bytes store the cache middleware consults.
// Implementations must be safe for concurrent use; this module ships two
// reference implementations (packages memorycache and sqlitecache).
type Backend interface {
	// Add inserts payload under key with the given time-to-live. A
	// cancelled ctx must skip the write entirely rather than partially
	// apply it, so a write racing a caller's cancellation cannot poison
	// the cache with an entry nobody asked to keep.
	Add(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// TryGet returns the most recently Add-ed payload for key whose expiry
	// is strictly in the future. A cancelled ctx returns a miss.
	TryGet(ctx context.Context, key string) (hit bool, payload []byte, err error)

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// KeyProvider derives a stable cache key from a request (spec C3).
type KeyProvider interface {
	Key(req *exchange.Request) string
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(req *exchange.Request) string

// Key implements KeyProvider.
func (f KeyProviderFunc) Key(req *exchange.Request) string { return f(req) }
