package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	// A second acquire on the same key blocks until its context expires.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(shortCtx, "session:s1", time.Minute)
	require.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(ctx))

	unlock2, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock1, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	unlock2, err := l.Acquire(ctx, "session:s2", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlock1(ctx))
	require.NoError(t, unlock2(ctx))
}

func TestMemoryLocker_UnlockIsIdempotent(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))

	// The double release must not have freed the slot twice.
	unlock2, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(shortCtx, "session:s1", time.Minute)
	require.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock2(ctx))
}

func TestMemoryLocker_HandoffOnRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	acquired := make(chan struct{})

	go func() {
		u, err := l.Acquire(ctx, "session:s1", time.Minute)
		if err == nil {
			_ = u(ctx)
		}

		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, unlock(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiting acquire never proceeded after release")
	}
}

func redisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, client := redisClient(t)
	l := NewRedisLocker(client, "convoflow:")
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("convoflow:lock:session:s1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("convoflow:lock:session:s1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := redisClient(t)
	l := NewRedisLocker(client, "convoflow:")
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(shortCtx, "session:s1", time.Minute)
	require.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(ctx))

	unlock2, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_ReleaseChecksToken(t *testing.T) {
	mr, client := redisClient(t)
	l := NewRedisLocker(client, "convoflow:")
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)

	// Simulate expiry plus re-acquisition by another worker.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("convoflow:lock:session:s1", "other-worker-token"))

	require.NoError(t, unlock(ctx))

	// The other worker's lock survives our stale release.
	got, err := mr.Get("convoflow:lock:session:s1")
	require.NoError(t, err)
	assert.Equal(t, "other-worker-token", got)
}

func TestRedisLocker_TTLExpiryFreesCrashedHolder(t *testing.T) {
	mr, client := redisClient(t)
	l := NewRedisLocker(client, "convoflow:")
	ctx := context.Background()

	_, err := l.Acquire(ctx, "session:s1", time.Second)
	require.NoError(t, err)

	// Holder never releases; the TTL reaps the key.
	mr.FastForward(2 * time.Second)

	unlock, err := l.Acquire(ctx, "session:s1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}
