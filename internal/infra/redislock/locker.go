// Package redislock implements port.AccountLocker on top of Redis using the
// RedLock algorithm, so several ledger instances can share one store.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/port"
)

const keyPrefix = "ledger:lock:account:"

// Options tunes lock acquisition.
type Options struct {
	// Expiry bounds how long a crashed holder can block an account.
	Expiry time.Duration
	// Tries is the number of acquisition attempts per account.
	Tries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultOptions returns defaults suited to short ledger mutations.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// ErrLockNotAcquired is returned when an account stays locked by someone
// else for every attempt.
var ErrLockNotAcquired = errors.New("account lock not acquired")

// Locker acquires one RedLock mutex per account id.
type Locker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

// New creates a Locker backed by client.
func New(client goredislib.UniversalClient, opts Options, logger *zap.Logger) *Locker {
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// Lock acquires the ids in ascending order and releases them in reverse.
func (l *Locker) Lock(ctx context.Context, accountIDs ...string) (port.UnlockFunc, error) {
	keys := port.LockOrder(accountIDs...)
	held := make([]*redsync.Mutex, 0, len(keys))

	for _, id := range keys {
		m := l.rs.NewMutex(keyPrefix+id,
			redsync.WithExpiry(l.opts.Expiry),
			redsync.WithTries(l.opts.Tries),
			redsync.WithRetryDelay(l.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			l.release(held)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: account %s: %v", ErrLockNotAcquired, id, err)
		}
		held = append(held, m)
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *Locker) release(held []*redsync.Mutex) {
	// Release must succeed even when the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.Expiry)
	defer cancel()

	for i := len(held) - 1; i >= 0; i-- {
		if ok, err := held[i].UnlockContext(ctx); err != nil || !ok {
			l.logger.Warn("account lock release failed",
				zap.String("lock", held[i].Name()),
				zap.Bool("held", ok),
				zap.Error(err),
			)
		}
	}
}
