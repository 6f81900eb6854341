package memory

import (
	"context"
	"sync"

	"github.com/boddenberg/retail-ledger-go/internal/port"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// Locker is a keyed mutex implementing port.AccountLocker inside one
// process. Waiting honours context cancellation, and entries are removed
// once nobody holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock acquires every id in ascending order. On failure, ids already taken
// are released before returning.
func (l *Locker) Lock(ctx context.Context, accountIDs ...string) (port.UnlockFunc, error) {
	keys := port.LockOrder(accountIDs...)
	held := make([]string, 0, len(keys))

	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

func (l *Locker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, kl)
		l.mu.Unlock()
		return ctx.Err()
	}
}

// releaseAll unlocks keys in reverse acquisition order.
func (l *Locker) releaseAll(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(keys) - 1; i >= 0; i-- {
		kl := l.locks[keys[i]]
		<-kl.sem
		l.unref(keys[i], kl)
	}
}

func (l *Locker) unref(key string, kl *keyLock) {
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Held reports how many keys are currently tracked, held or awaited.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
