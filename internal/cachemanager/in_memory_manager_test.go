package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type source struct {
	Name string
	Hash string
}

func TestInMemory_SetAndGet(t *testing.T) {
	cache := NewInMemory[string, source]("code", DefaultExpiration, DefaultCleanupInterval)
	want := source{Name: "SHOUT", Hash: "abc"}
	cache.Set(context.Background(), "shout", want, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "shout")
	require.True(t, ok)
	require.Equal(t, want, got)
	require.Equal(t, 1, cache.Len())
}

func TestInMemory_Miss(t *testing.T) {
	cache := NewInMemory[string, string]("code", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "absent")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemory_WrongTypeIsEvicted(t *testing.T) {
	cache := NewInMemory[string, string]("code", DefaultExpiration, DefaultCleanupInterval)
	cache.cache.Set("x", 123, DefaultExpiration)

	_, ok := cache.Get(context.Background(), "x")
	require.False(t, ok)
	require.Zero(t, cache.Len())
}

func TestInMemory_Expiry(t *testing.T) {
	cache := NewInMemory[string, string]("code", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "x", "v", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "x")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemory_GetWithRefreshExtendsTTL(t *testing.T) {
	cache := NewInMemory[string, string]("code", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "x", "v", 50*time.Millisecond)

	_, ok := cache.GetWithRefresh(context.Background(), "x", time.Hour)
	require.True(t, ok)
	time.Sleep(80 * time.Millisecond)

	got, ok := cache.Get(context.Background(), "x")
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestInMemory_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemory[string, string]("code", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(ctx, "a", "1", DefaultExpiration)
	cache.Set(ctx, "b", "2", DefaultExpiration)
	cache.Set(ctx, "c", "3", DefaultExpiration)

	cache.Delete(ctx, "a", "b")
	require.Equal(t, 1, cache.Len())

	cache.Flush(ctx)
	require.Zero(t, cache.Len())
}
