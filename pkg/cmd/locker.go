package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/convoflow/convoflow/pkg/lock"
)

// NewLocker builds the session locker. A redis URL yields a distributed
// locker shared by all workers; an empty URL yields a process-local one,
// correct only for single-worker deployments.
func NewLocker(ctx context.Context, redisURL string) (lock.Locker, error) {
	if redisURL == "" {
		return lock.NewMemoryLocker(), nil
	}

	if !strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
		return nil, fmt.Errorf("unsupported redis url: %s", redisURL)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return lock.NewRedisLocker(client, "convoflow"), nil
}
