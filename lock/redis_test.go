package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLocker_TryLockAndRelease(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewRedisLocker(client, 5*time.Second, nil)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "pipeline:run")
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := l.IsLocked(ctx, "pipeline:run")
	require.NoError(t, err)
	assert.True(t, locked)

	_, ok, err = l.TryLock(ctx, "pipeline:run")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	locked, err = l.IsLocked(ctx, "pipeline:run")
	require.NoError(t, err)
	assert.False(t, locked)

	again, ok, err := l.TryLock(ctx, "pipeline:run")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestRedisLocker_ExpiredHoldDoesNotReleaseNewOwner(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedisLocker(client, 2*time.Second, nil)
	ctx := context.Background()

	stale, ok, err := l.TryLock(ctx, "catalog")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	current, ok, err := l.TryLock(ctx, "catalog")
	require.NoError(t, err)
	require.True(t, ok)
	defer current()

	stale()

	locked, err := l.IsLocked(ctx, "catalog")
	require.NoError(t, err)
	assert.True(t, locked, "stale release must not drop the new owner's hold")
}

func TestRedisLocker_LockWaitsForRelease(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewRedisLocker(client, 5*time.Second, nil)
	l.pollInterval = 5 * time.Millisecond
	ctx := context.Background()

	release, err := l.Lock(ctx, "catalog")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(ctx, "catalog")
		if assert.NoError(t, err) {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while the key was held")
	case <-time.After(30 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired the key")
	}
}

func TestRedisLocker_LockHonoursContext(t *testing.T) {
	_, client := setupTestRedis(t)
	l := NewRedisLocker(client, 5*time.Second, nil)
	l.pollInterval = 5 * time.Millisecond

	release, err := l.Lock(context.Background(), "catalog")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "catalog")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
