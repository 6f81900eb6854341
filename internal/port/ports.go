// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"sort"
)

// Notifier delivers human-readable messages about completed operations.
// Delivery is fire-and-forget: a failed notification never undoes the
// operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// AttemptCounter counts events per key, such as login attempts. Incr is
// atomic and returns the count including the new event.
type AttemptCounter interface {
	Incr(key string) int
	Reset(key string)
}

// UnlockFunc releases locks obtained from an AccountLocker.
type UnlockFunc func()

// AccountLocker serializes mutations per account id. Implementations must
// acquire multiple ids in ascending order so that two operations touching
// the same pair of accounts can never deadlock.
type AccountLocker interface {
	Lock(ctx context.Context, accountIDs ...string) (UnlockFunc, error)
}

// LockOrder returns ids deduplicated, without empty entries and in ascending
// order: the global acquisition order every AccountLocker follows.
func LockOrder(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
