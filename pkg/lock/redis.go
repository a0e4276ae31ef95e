package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const acquirePollInterval = 50 * time.Millisecond

// unlockScript deletes the key only when it still carries our token, so an
// expired lock re-acquired by another worker is never released by us.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker implements Locker on Redis with SET NX PX and a token-checked
// Lua release. It is safe across processes.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a Redis-backed locker. Keys are namespaced under
// the given prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire polls SET NX until the lock is held or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.New().String()

	ticker := time.NewTicker(acquirePollInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
		}

		if acquired {
			return func(ctx context.Context) error {
				err := l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
				if err != nil {
					return fmt.Errorf("failed to release lock %s: %w", lockKey, err)
				}

				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, lockKey, ctx.Err())
		case <-ticker.C:
		}
	}
}
