// Package lock provides the per-session exclusive execution lock. The run
// loop holds the lock from session load through state persist; any backend
// must give real mutual exclusion across every process executing sessions.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock could not be acquired within the
// caller's context deadline.
var ErrNotAcquired = errors.New("failed to acquire execution lock")

// Unlock releases an acquired lock.
type Unlock func(ctx context.Context) error

// Locker acquires exclusive locks by key. Acquire blocks until the lock is
// held or the context is done; the TTL bounds how long a crashed holder can
// keep the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}
