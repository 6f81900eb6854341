package redislock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/infra/redislock"
)

func newLocker(t *testing.T, opts redislock.Options) (*redislock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client, opts, zap.NewNop()), mr
}

func TestLocker_LockAndUnlock(t *testing.T) {
	l, mr := newLocker(t, redislock.DefaultOptions())

	unlock, err := l.Lock(context.Background(), "b", "a")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledger:lock:account:a"))
	assert.True(t, mr.Exists("ledger:lock:account:b"))

	unlock()
	unlock()
	assert.False(t, mr.Exists("ledger:lock:account:a"))
	assert.False(t, mr.Exists("ledger:lock:account:b"))
}

func TestLocker_ContendedLockFails(t *testing.T) {
	opts := redislock.Options{Expiry: 5 * time.Second, Tries: 2, RetryDelay: 5 * time.Millisecond}
	l, mr := newLocker(t, opts)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "z", "a")
	require.ErrorIs(t, err, redislock.ErrLockNotAcquired)

	// "a" sorts first, so nothing else was left behind.
	assert.False(t, mr.Exists("ledger:lock:account:z"))
}

func TestLocker_ReleasesPartialAcquisition(t *testing.T) {
	opts := redislock.Options{Expiry: 5 * time.Second, Tries: 2, RetryDelay: 5 * time.Millisecond}
	l, mr := newLocker(t, opts)

	unlock, err := l.Lock(context.Background(), "z")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "a", "z")
	require.ErrorIs(t, err, redislock.ErrLockNotAcquired)
	assert.False(t, mr.Exists("ledger:lock:account:a"), "partially acquired lock leaked")
}

func TestLocker_SerializesHolders(t *testing.T) {
	l, _ := newLocker(t, redislock.Options{Expiry: 5 * time.Second, Tries: 200, RetryDelay: 2 * time.Millisecond})

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "x", "y")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_CancelledContext(t *testing.T) {
	l, _ := newLocker(t, redislock.DefaultOptions())
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
