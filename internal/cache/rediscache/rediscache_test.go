package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "availability:1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "availability:1", []byte("true"), time.Minute))

	b, ok, err := c.Get(ctx, "availability:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("true"), b)

	require.NoError(t, c.Del(ctx, "availability:1"))
	_, ok, err = c.Get(ctx, "availability:1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "availability:2", []byte("false"), time.Minute))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "availability:2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:panel:key1", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:panel:key1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:panel:key1", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// A fresh window starts over.
	mr.FastForward(2 * time.Minute)
	ok, n, _ = rl.Allow(ctx, "rl:panel:key1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
