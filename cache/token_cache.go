package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TokenCache is a bounded, short-lived cache of introspection results keyed by
// the hash of the access token. Entries never outlive their ttl and the
// oldest entries are evicted once capacity is reached.
type TokenCache[V any] struct {
	cache *ttlcache.Cache[string, V]
	ttl   time.Duration
}

// NewTokenCache creates a cache holding at most capacity entries.
func NewTokenCache[V any](ttl time.Duration, capacity uint64) *TokenCache[V] {
	c := ttlcache.New(
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithCapacity[string, V](capacity),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)

	return &TokenCache[V]{cache: c, ttl: ttl}
}

// Get returns the cached value for token.
func (c *TokenCache[V]) Get(token string) (V, bool) {
	item := c.cache.Get(HashToken(token))
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Put caches value for token. Expired entries are swept on every write.
func (c *TokenCache[V]) Put(token string, value V) {
	c.cache.DeleteExpired()
	c.cache.Set(HashToken(token), value, ttlcache.DefaultTTL)
}

// Invalidate drops the entry for token, e.g. after logout.
func (c *TokenCache[V]) Invalidate(token string) {
	c.cache.Delete(HashToken(token))
}

// Len returns the number of cached entries.
func (c *TokenCache[V]) Len() int {
	return c.cache.Len()
}
