package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker implements Locker for single-process deployments and tests.
// It gives the same blocking semantics as the Redis locker but only within
// one process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

// Acquire blocks until the key's slot is free or ctx is done. The TTL is
// ignored: an in-process holder cannot crash without the process dying.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	slot := l.slot(key)

	select {
	case slot <- struct{}{}:
		var once sync.Once

		return func(ctx context.Context) error {
			once.Do(func() { <-slot })

			return nil
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
	}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.locks[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.locks[key] = slot
	}

	return slot
}
