package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/persistence/memory"
	"github.com/convoflow/convoflow/pkg/persistence/postgresql"
)

// NewPersistence selects a storage backend from the database URL scheme. An
// empty or "memory" URL yields the in-memory store, which does not survive
// restarts.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "" || databaseURL == "memory":
		return memory.NewPersistence(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url: %s", databaseURL)
	}
}
