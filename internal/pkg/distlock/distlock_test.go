package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestNewLockPicksBackend(t *testing.T) {
	_, client := redisClient(t)
	assert.IsType(t, &RedisLock{}, NewLock(client, nil, "k", time.Minute))
	assert.IsType(t, &MemoryLock{}, NewLock(nil, nil, "k", time.Minute))
}

func TestMemoryLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	a := &MemoryLock{key: "dl-mem-1"}
	b := &MemoryLock{key: "dl-mem-1"}

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}

func TestRedisLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	_, client := redisClient(t)

	a := NewRedisLock(client, "campaign:c1", time.Minute)
	b := NewRedisLock(client, "campaign:c1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	_, client := redisClient(t)

	owner := NewRedisLock(client, "campaign:c2", time.Minute)
	imposter := NewRedisLock(client, "campaign:c2", time.Minute)

	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A different instance holds a different ownership value, so its
	// release must not free the owner's lock.
	require.NoError(t, imposter.Release(ctx))
	ok, err = imposter.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockExpiresAndExtends(t *testing.T) {
	ctx := context.Background()
	srv, client := redisClient(t)

	a := NewRedisLock(client, "campaign:c3", time.Minute)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, 10*time.Minute))
	srv.FastForward(5 * time.Minute)

	b := NewRedisLock(client, "campaign:c3", time.Minute)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "extended lock should survive the original TTL")

	srv.FastForward(6 * time.Minute)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock should expire after the extended TTL")
}
