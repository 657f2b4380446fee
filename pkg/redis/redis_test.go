package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAdapter(t *testing.T) (*miniredis.Miniredis, RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := NewRedisAdapter(t.Name()+"-"+mr.Addr(), "test:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

func TestRedisAdapter_SetNXAndRelease(t *testing.T) {
	mr, adapter := setupAdapter(t)
	ctx := context.Background()

	ok, err := adapter.SetNX(ctx, "lock", []byte("owner-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("test:lock"))

	ok, err = adapter.SetNX(ctx, "lock", []byte("owner-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := adapter.ReleaseIfOwner(ctx, "lock", "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = adapter.ReleaseIfOwner(ctx, "lock", "owner-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("test:lock"))
}

func TestRedisAdapter_ExtendIfOwner(t *testing.T) {
	mr, adapter := setupAdapter(t)
	ctx := context.Background()

	_, err := adapter.SetNX(ctx, "lock", []byte("owner"), time.Second)
	require.NoError(t, err)

	ok, err := adapter.ExtendIfOwner(ctx, "lock", "owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, mr.TTL("test:lock"), 30*time.Second)

	ok, err = adapter.ExtendIfOwner(ctx, "lock", "someone-else", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAdapter_HSetBatch(t *testing.T) {
	mr, adapter := setupAdapter(t)
	ctx := context.Background()

	err := adapter.HSetBatch(ctx, "counters", map[string]interface{}{
		"hourly": 3,
		"daily":  10,
	}, time.Hour)
	require.NoError(t, err)

	values, err := adapter.HGetAll(ctx, "counters")
	require.NoError(t, err)
	assert.Equal(t, "3", values["hourly"])
	assert.Equal(t, "10", values["daily"])
	assert.Greater(t, mr.TTL("test:counters"), time.Duration(0))
}

func TestRedisAdapter_GetMissingKey(t *testing.T) {
	_, adapter := setupAdapter(t)

	_, err := adapter.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, NilError)
}
