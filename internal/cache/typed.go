package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Typed wraps a Cache with JSON encoding of T and typed keys.
type Typed[T any] struct {
	cache      Cache
	defaultTTL time.Duration
}

// NewTyped creates a Typed cache over c. A zero ttl keeps entries until the
// underlying cache evicts them.
func NewTyped[T any](c Cache, ttl time.Duration) *Typed[T] {
	return &Typed[T]{cache: c, defaultTTL: ttl}
}

// Get returns the cached value, or false on a miss or decode failure.
func (c *Typed[T]) Get(ctx context.Context, key Key) (*T, bool) {
	data, err := c.cache.Get(ctx, key.CacheKey())
	if err != nil {
		return nil, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return &value, true
}

// Set stores value with the default TTL.
func (c *Typed[T]) Set(ctx context.Context, key Key, value *T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, key.CacheKey(), data, c.defaultTTL)
}

// Delete removes the entry for key.
func (c *Typed[T]) Delete(ctx context.Context, key Key) error {
	return c.cache.Delete(ctx, key.CacheKey())
}
