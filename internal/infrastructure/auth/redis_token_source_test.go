//go:build integration

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/libranotify/internal/domain/errs"
	"github.com/lllypuk/libranotify/internal/infrastructure/auth"
	"github.com/lllypuk/libranotify/tests/testutil"
)

func TestRedisTokenSource(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	ctx := context.Background()

	source := auth.NewRedisTokenSource(auth.RedisTokenSourceConfig{
		Client:    client,
		KeyPrefix: prefix,
		Subject:   "member-7",
	})

	t.Run("no session yet", func(t *testing.T) {
		_, err := source.Token(ctx)

		require.ErrorIs(t, err, errs.ErrNoToken)
	})

	t.Run("reads token written by the session manager", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, source.Key(), "Bearer session-token", time.Minute).Err())

		token, err := source.Token(ctx)

		require.NoError(t, err)
		assert.Equal(t, "session-token", token)
	})

	t.Run("picks up rotated token", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, source.Key(), "rotated-token", time.Minute).Err())

		token, err := source.Token(ctx)

		require.NoError(t, err)
		assert.Equal(t, "rotated-token", token)
	})
}

func TestNewRedisTokenSource_DefaultPrefix(t *testing.T) {
	client := testutil.SetupTestRedis(t)

	source := auth.NewRedisTokenSource(auth.RedisTokenSourceConfig{Client: client, Subject: "u1"})

	assert.Equal(t, "auth:access_token:u1", source.Key())
}
