package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/idempotency"
)

type storeFactory func(t *testing.T) (idempotency.Store, func(time.Duration))

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) (idempotency.Store, func(time.Duration)) {
			s := idempotency.NewMemoryStore()
			return s, func(d time.Duration) { time.Sleep(d) }
		},
		"redis": func(t *testing.T) (idempotency.Store, func(time.Duration)) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return idempotency.NewRedisStore(client), mr.FastForward
		},
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			t.Run("SetNX only once", func(t *testing.T) {
				s, _ := factory(t)
				ok, err := s.SetNX(ctx, "k", "a", time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)
				ok, err = s.SetNX(ctx, "k", "b", time.Minute)
				require.NoError(t, err)
				assert.False(t, ok)
				v, found, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, "a", v)
			})

			t.Run("TTL expiry frees the key", func(t *testing.T) {
				s, advance := factory(t)
				ok, err := s.SetNX(ctx, "ttl", "a", 20*time.Millisecond)
				require.NoError(t, err)
				require.True(t, ok)
				advance(30 * time.Millisecond)
				_, found, err := s.Get(ctx, "ttl")
				require.NoError(t, err)
				assert.False(t, found)
				ok, err = s.SetNX(ctx, "ttl", "b", time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("DelIfValue checks owner", func(t *testing.T) {
				s, _ := factory(t)
				_, err := s.SetNX(ctx, "owned", "token-1", time.Minute)
				require.NoError(t, err)
				deleted, err := s.DelIfValue(ctx, "owned", "token-2")
				require.NoError(t, err)
				assert.False(t, deleted)
				deleted, err = s.DelIfValue(ctx, "owned", "token-1")
				require.NoError(t, err)
				assert.True(t, deleted)
			})

			t.Run("ExpireIfValue extends only the owner", func(t *testing.T) {
				s, advance := factory(t)
				_, err := s.SetNX(ctx, "lease", "token-1", 40*time.Millisecond)
				require.NoError(t, err)
				extended, err := s.ExpireIfValue(ctx, "lease", "token-2", time.Minute)
				require.NoError(t, err)
				assert.False(t, extended)
				extended, err = s.ExpireIfValue(ctx, "lease", "token-1", time.Minute)
				require.NoError(t, err)
				assert.True(t, extended)
				advance(60 * time.Millisecond)
				v, found, err := s.Get(ctx, "lease")
				require.NoError(t, err)
				assert.True(t, found, "extended key outlives its original ttl")
				assert.Equal(t, "token-1", v)
			})

			t.Run("Incr counts", func(t *testing.T) {
				s, _ := factory(t)
				for want := int64(1); want <= 3; want++ {
					n, err := s.Incr(ctx, "counter", time.Minute)
					require.NoError(t, err)
					assert.Equal(t, want, n)
				}
			})
		})
	}
}

func TestSessionLocker(t *testing.T) {
	ctx := context.Background()
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s, _ := factory(t)
			locker := idempotency.NewSessionLocker(s, time.Minute, nil)

			release, err := locker.Acquire(ctx, "session-1")
			require.NoError(t, err)

			_, err = locker.Acquire(ctx, "session-1")
			assert.ErrorIs(t, err, idempotency.ErrLockHeld)

			_, err = locker.Acquire(ctx, "session-2")
			assert.NoError(t, err, "locks are per session")

			release(ctx)
			release2, err := locker.Acquire(ctx, "session-1")
			require.NoError(t, err, "lock can be taken again after release")
			release2(ctx)
		})
	}
}

func TestSessionLocker_Concurrent(t *testing.T) {
	ctx := context.Background()
	locker := idempotency.NewSessionLocker(idempotency.NewMemoryStore(), time.Minute, nil)

	var wins, held int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := locker.Acquire(ctx, "race")
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if err == idempotency.ErrLockHeld {
				atomic.AddInt32(&held, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(15), held)
}

func TestSessionLocker_WithLock(t *testing.T) {
	ctx := context.Background()
	locker := idempotency.NewSessionLocker(idempotency.NewMemoryStore(), time.Minute, nil)

	err := locker.WithLock(ctx, "s", func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "s", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, idempotency.ErrLockHeld)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, locker.WithLock(ctx, "s", func(context.Context) error { return nil }))
}

func TestSessionLocker_WithLockOutlivesTTL(t *testing.T) {
	ctx := context.Background()
	locker := idempotency.NewSessionLocker(idempotency.NewMemoryStore(), 60*time.Millisecond, nil)

	var second error
	err := locker.WithLock(ctx, "slow", func(ctx context.Context) error {
		time.Sleep(150 * time.Millisecond)
		second = locker.WithLock(ctx, "slow", func(context.Context) error { return nil })
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.ErrorIs(t, second, idempotency.ErrLockHeld, "the lock is extended while work is running")
	assert.NoError(t, locker.WithLock(ctx, "slow", func(context.Context) error { return nil }))
}

func TestSessionLocker_WithLockLost(t *testing.T) {
	ctx := context.Background()
	store := idempotency.NewMemoryStore()
	locker := idempotency.NewSessionLocker(store, 60*time.Millisecond, nil)

	err := locker.WithLock(ctx, "stolen", func(ctx context.Context) error {
		require.NoError(t, store.Set(ctx, idempotency.SessionLockKey("stolen"), "someone-else", time.Minute))
		select {
		case <-ctx.Done():
			assert.ErrorIs(t, context.Cause(ctx), idempotency.ErrLockLost)
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, idempotency.ErrLockLost)
	assert.ErrorIs(t, err, context.Canceled)

	v, ok, err := store.Get(ctx, idempotency.SessionLockKey("stolen"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "someone-else", v, "a lost lock is not released by the old owner")
}

func TestStatusStore(t *testing.T) {
	ctx := context.Background()
	s := idempotency.NewMemoryStore()
	status := idempotency.NewStatusStore(s, time.Hour)

	_, ok, err := status.Status(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, status.SetStatus(ctx, "abc", "pending"))
	v, ok, err := status.Status(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pending", v)

	n, err := status.IncrementSubmits(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	raw, ok, err := s.Get(ctx, idempotency.GatewaySubmitCountKey("abc"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", raw)
	assert.Equal(t, "purchase-status:abc", idempotency.PurchaseStatusKey("abc"))
	assert.Equal(t, "session-lock:abc", idempotency.SessionLockKey("abc"))
}
