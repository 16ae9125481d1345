// Package security carries the engine's bounded idempotency cache and the
// tenant/workspace scoped-key helper, plus payload encryption and service
// token helpers.
package security

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyCache is a bounded, process-local fast path in front of the
// event store's get_by_idempotency_key index. It is never the sole source
// of truth for duplicate detection — eviction must fail open to a store
// lookup, never silently treat an evicted key as unseen-and-safe.
type IdempotencyCache struct {
	cache *lru.Cache[string, struct{}]
}

// NewIdempotencyCache builds a cache bounded to size entries. size <= 0
// falls back to a sane default so a misconfigured deployment doesn't
// silently disable the fast path.
func NewIdempotencyCache(size int) *IdempotencyCache {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		// Only returns an error for size <= 0, which is excluded above.
		panic(err)
	}
	return &IdempotencyCache{cache: c}
}

// Seen reports whether key is present in the cache without marking it.
func (c *IdempotencyCache) Seen(key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.cache.Get(key)
	return ok
}

// Mark records key as processed.
func (c *IdempotencyCache) Mark(key string) {
	if c == nil {
		return
	}
	c.cache.Add(key, struct{}{})
}

// Len returns the number of tracked keys.
func (c *IdempotencyCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// ScopedKey builds the scoped idempotency key tenant:workspace:idempotency_key.
func ScopedKey(tenant, workspace, idempotencyKey string) string {
	return tenant + ":" + workspace + ":" + idempotencyKey
}
