package assignment_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/tripcoord/internal/roster/assignment"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestMemoryGuardAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	guard := assignment.NewMemoryGuard()

	token, ok, err := guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second mutation for the same passenger is refused")

	_, ok, err = guard.TryAcquire(ctx, "p2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "other passengers are independent")

	require.NoError(t, guard.Release(ctx, "p1", token))
	_, ok, err = guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryGuardExpires(t *testing.T) {
	ctx := context.Background()
	guard := assignment.NewMemoryGuard()

	_, ok, err := guard.TryAcquire(ctx, "p1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, ok, err = guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisGuardAcquireAndRelease(t *testing.T) {
	client, _ := newRedisClient(t)
	guard := assignment.NewRedisGuard(client, "")
	ctx := context.Background()

	token, ok, err := guard.TryAcquire(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.TryAcquire(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, guard.Release(ctx, "p1", token))

	_, ok, err = guard.TryAcquire(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisGuardTTLExpiry(t *testing.T) {
	client, mr := newRedisClient(t)
	guard := assignment.NewRedisGuard(client, "test:")
	ctx := context.Background()

	_, ok, err := guard.TryAcquire(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("test:p1"))

	mr.FastForward(2 * time.Second)

	_, ok, err = guard.TryAcquire(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryGuardStaleReleaseKeepsNewerMark(t *testing.T) {
	ctx := context.Background()
	guard := assignment.NewMemoryGuard()

	first, ok, err := guard.TryAcquire(ctx, "p1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	second, ok, err := guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first, second)

	require.NoError(t, guard.Release(ctx, "p1", first))
	_, ok, err = guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "an expired holder cannot clear the current mark")

	require.NoError(t, guard.Release(ctx, "p1", second))
	_, ok, err = guard.TryAcquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisGuardStaleReleaseKeepsNewerMark(t *testing.T) {
	client, mr := newRedisClient(t)
	guard := assignment.NewRedisGuard(client, "")
	ctx := context.Background()

	first, ok, err := guard.TryAcquire(ctx, "p1", 15*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(16 * time.Second)

	second, ok, err := guard.TryAcquire(ctx, "p1", 15*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, guard.Release(ctx, "p1", first))
	_, ok, err = guard.TryAcquire(ctx, "p1", 15*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "an expired holder cannot clear the current mark")

	require.NoError(t, guard.Release(ctx, "p1", second))
	_, ok, err = guard.TryAcquire(ctx, "p1", 15*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}
