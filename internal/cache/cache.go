// Package cache stores backend search answers for the gateway, in Redis or
// in process.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a string key/value store with per-entry expiry.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get reads a value, mapping redis.Nil to ErrMiss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is an in-process cache for single-instance deployments.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates a cache whose janitor sweeps expired entries every
// cleanup interval.
func NewMemoryCache(defaultExpiration, cleanup time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(defaultExpiration, cleanup)}
}

// Set stores value; a zero expiration uses the cache default.
func (c *MemoryCache) Set(_ context.Context, key string, value string, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = gocache.DefaultExpiration
	}
	c.store.Set(key, value, expiration)
	return nil
}

// Get returns the stored value or ErrMiss.
func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	value, ok := c.store.Get(key)
	if !ok {
		return "", ErrMiss
	}
	s, ok := value.(string)
	if !ok {
		return "", ErrMiss
	}
	return s, nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.store.ItemCount()
}
