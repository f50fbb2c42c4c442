package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mesaviva/mesaviva/internal/authz"
)

func newTestCache(t *testing.T, ttl time.Duration) (*authz.PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return authz.NewPermissionCache(client, ttl), mr
}

func TestCacheKeyScheme(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	require.Equal(t, "auth:permissions:u1:t1", cache.Key("u1", "t1"))
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	_, hit, err := cache.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.False(t, hit)

	set := authz.NewPermissionSet("product_module", "PRODUCT_MODULE:select")
	require.NoError(t, cache.Put(ctx, "u1", "t1", set))

	got, hit, err := cache.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, set.Tokens(), got.Tokens())
}

func TestCachePutSetsTTL(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "t1", authz.NewPermissionSet("X")))
	require.InDelta(t, time.Minute.Seconds(), mr.TTL(cache.Key("u1", "t1")).Seconds(), 1)

	mr.FastForward(2 * time.Minute)
	_, hit, err := cache.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "t1", authz.NewPermissionSet("X")))
	require.NoError(t, cache.Invalidate(ctx, "u1", "t1"))

	_, hit, err := cache.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.False(t, hit)

	// Invalidating an absent key is not an error.
	require.NoError(t, cache.Invalidate(ctx, "u1", "t1"))
}

func TestCacheCorruptPayloadIsMiss(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set(cache.Key("u1", "t1"), "not-json"))

	_, hit, err := cache.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	require.False(t, hit)

	// The bad entry is dropped so the next Put starts clean.
	require.False(t, mr.Exists(cache.Key("u1", "t1")))
}
