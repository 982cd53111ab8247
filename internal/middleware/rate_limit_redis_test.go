//go:build integration

package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/libranotify/internal/middleware"
	"github.com/lllypuk/libranotify/tests/testutil"
)

func TestRedisRateLimitStore(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	store := middleware.NewRedisRateLimitStore(client, prefix)
	ctx := context.Background()

	count, ttl, err := store.Increment(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.InDelta(t, time.Minute, ttl, float64(time.Second))

	count, _, err = store.Increment(ctx, "refresh", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The window is fixed by the first increment.
	remaining, err := client.PTTL(ctx, prefix+"refresh").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, remaining, time.Minute)
}

func TestNewRedisRateLimitStore_DefaultPrefix(t *testing.T) {
	client, _ := testutil.SetupTestRedisWithPrefix(t)
	store := middleware.NewRedisRateLimitStore(client, "")
	ctx := context.Background()

	t.Cleanup(func() { client.Del(context.Background(), middleware.DefaultRateLimitPrefix+t.Name()) })

	_, _, err := store.Increment(ctx, t.Name(), time.Minute)
	require.NoError(t, err)

	exists, err := client.Exists(ctx, middleware.DefaultRateLimitPrefix+t.Name()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
