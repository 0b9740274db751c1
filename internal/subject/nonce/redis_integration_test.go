//go:build integration

package nonce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-sos/pkg/platform/sentinel"
	"sentinel-sos/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))
	store := NewRedisStore(rc.Client)

	t.Run("newest challenge wins", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, addr, "first", time.Minute))
		require.NoError(t, store.Put(ctx, addr, "second", time.Minute))

		got, err := store.Get(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "second", got)

		assert.ErrorIs(t, store.Consume(ctx, addr, "first"), sentinel.ErrAlreadyUsed)
		require.NoError(t, store.Consume(ctx, addr, "second"))
		assert.ErrorIs(t, store.Consume(ctx, addr, "second"), sentinel.ErrNotFound)
	})

	t.Run("ttl is applied", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, addr, "n", time.Minute))
		ttl, err := rc.Client.TTL(ctx, key(addr)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Second)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(ctx, "0x00000000000000000000000000000000000000ee")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
