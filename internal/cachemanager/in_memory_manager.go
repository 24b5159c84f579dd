package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/formulary/internal/log"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// InMemory stores values in a go-cache instance. The name only shows up in logs.
type InMemory[K ~string, V any] struct {
	name  string
	cache *gocache.Cache
}

var _ CacheManager[string, int] = (*InMemory[string, int])(nil)

// NewInMemory creates a cache whose entries expire after expiration unless a
// caller passes its own TTL.
func NewInMemory[K ~string, V any](name string, expiration, cleanup time.Duration) *InMemory[K, V] {
	return &InMemory[K, V]{
		name:  name,
		cache: gocache.New(expiration, cleanup),
	}
}

func (c *InMemory[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	raw, found := c.cache.Get(string(key))
	if !found {
		log.Debug(log.CatCache, "Cache miss", "cache", c.name, "key", key)
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "Cached value has unexpected type", "cache", c.name, "key", key)
		c.cache.Delete(string(key))
		return zero, false
	}
	return v, true
}

// GetWithRefresh extends the TTL of a hit by storing it again.
func (c *InMemory[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, ok := c.Get(ctx, key)
	if ok {
		c.Set(ctx, key, v, ttl)
	}
	return v, ok
}

func (c *InMemory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

func (c *InMemory[K, V]) Delete(_ context.Context, keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

func (c *InMemory[K, V]) Flush(context.Context) {
	c.cache.Flush()
	log.Debug(log.CatCache, "Cache flushed", "cache", c.name)
}

func (c *InMemory[K, V]) Len() int {
	return c.cache.ItemCount()
}
