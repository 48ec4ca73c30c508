package cache

import (
	"context"
	"fmt"
	"time"

	"cms-go/internal/config"
)

// NewCacheFromConfig creates a Cache implementation based on the cache config type.
func NewCacheFromConfig(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemoryCache(ttl, 10000), nil
	case "redis":
		c, err := NewRedisCache(ctx, cfg.RedisURL, cfg.Prefix, ttl)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
