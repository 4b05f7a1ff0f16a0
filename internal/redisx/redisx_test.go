package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLocker_AcquireRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := &Locker{Client: client}
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "lock:checkout:s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "lock:checkout:s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second caller must not get the lock")

	release()
	assert.False(t, mr.Exists("lock:checkout:s1"))

	_, ok, err = l.Acquire(ctx, "lock:checkout:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ReleaseDoesNotStealExpiredLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := &Locker{Client: client}
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists("k"), "stale release must keep the new owner's lock")
}

func TestDeduper(t *testing.T) {
	client, mr := setupTestRedis(t)
	d := &Deduper{Client: client, Scope: "payments"}
	ctx := context.Background()

	done, err := d.Processed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, mr.Exists("dedup:payments:evt_1"), "checking must not mark")

	require.NoError(t, d.Remember(ctx, "evt_1"))
	assert.True(t, mr.Exists("dedup:payments:evt_1"))
	done, err = d.Processed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, done)

	mr.FastForward(TTLDedup + time.Second)
	done, err = d.Processed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestLimiter_FixedWindow(t *testing.T) {
	client, _ := setupTestRedis(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := &Limiter{Client: client, Limit: 2, Window: time.Minute, Now: func() time.Time { return now }}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "checkout", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "checkout", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "checkout", "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "other clients have their own counter")

	now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "checkout", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "new window resets the counter")
}
