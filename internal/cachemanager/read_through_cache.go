package cachemanager

import (
	"context"
	"sync"
	"time"
)

// ReadThrough answers from the cache and falls back to load on a miss,
// caching only successful loads. A load that overlaps an Invalidate or Reset
// of its key is returned to the caller but not cached.
type ReadThrough[K ~string, V any] struct {
	cache    CacheManager[K, V]
	load     func(ctx context.Context, key K) (V, error)
	ttl      time.Duration
	disabled bool

	mu    sync.Mutex
	gens  map[K]uint64
	epoch uint64
}

// NewReadThrough wires load behind cache. With disabled set every call goes
// straight to load.
func NewReadThrough[K ~string, V any](
	cache CacheManager[K, V],
	load func(ctx context.Context, key K) (V, error),
	ttl time.Duration,
	disabled bool,
) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, load: load, ttl: ttl, disabled: disabled, gens: make(map[K]uint64)}
}

type generation struct {
	key   uint64
	epoch uint64
}

func (r *ReadThrough[K, V]) Get(ctx context.Context, key K) (V, error) {
	if r.disabled {
		return r.load(ctx, key)
	}
	if v, ok := r.cache.GetWithRefresh(ctx, key, r.ttl); ok {
		return v, nil
	}

	r.mu.Lock()
	before := generation{key: r.gens[key], epoch: r.epoch}
	r.mu.Unlock()

	v, err := r.load(ctx, key)
	if err != nil {
		return v, err
	}

	r.mu.Lock()
	if before == (generation{key: r.gens[key], epoch: r.epoch}) {
		r.cache.Set(ctx, key, v, r.ttl)
	}
	r.mu.Unlock()
	return v, nil
}

// Invalidate drops keys so the next Get reloads them.
func (r *ReadThrough[K, V]) Invalidate(ctx context.Context, keys ...K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		r.gens[k]++
	}
	r.cache.Delete(ctx, keys...)
}

// Reset drops every cached value.
func (r *ReadThrough[K, V]) Reset(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.cache.Flush(ctx)
}
