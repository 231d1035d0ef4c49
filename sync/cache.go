package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a cache key holds no value.
var ErrCacheMiss = errors.New("cache miss")

// InventoryCache reads results that workers leave behind in the cache.
type InventoryCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisCache is an InventoryCache backed by plain Redis string keys.
type RedisCache struct {
	client redis.UniversalClient
}

var _ InventoryCache = (*RedisCache)(nil)

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value stored under key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, nil
}
