// Package sweeper implements the background session reaper: expired input
// waits follow their timeout edge or finish with the timeout status, and
// long-idle sessions are abandoned.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

const (
	// DefaultSweepInterval is how often the sweeper scans for work.
	DefaultSweepInterval = 30 * time.Second

	// DefaultIdleCutoff is how long a session may sit without activity
	// before it is abandoned. Zero disables idle abandonment.
	DefaultIdleCutoff = 24 * time.Hour

	// DefaultBatchSize bounds how many sessions one sweep touches per query.
	DefaultBatchSize = 100
)

// SessionReaper is the slice of the session manager the sweeper drives.
type SessionReaper interface {
	HandleWaitTimeout(ctx context.Context, sessionID string) (*engine.SessionOutcome, error)
	Abandon(ctx context.Context, sessionID, reason string) error
}

// Sweeper periodically reaps timed-out waits and idle sessions.
type Sweeper struct {
	persistence persistence.Persistence
	reaper      SessionReaper
	logger      *slog.Logger

	sweepInterval time.Duration
	idleCutoff    time.Duration
	batchSize     int

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

// Config tunes the sweeper; zero values take defaults. IdleCutoff below
// zero disables idle abandonment.
type Config struct {
	SweepInterval time.Duration
	IdleCutoff    time.Duration
	BatchSize     int
}

func NewSweeper(p persistence.Persistence, reaper SessionReaper, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	if cfg.IdleCutoff == 0 {
		cfg.IdleCutoff = DefaultIdleCutoff
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Sweeper{
		persistence:   p,
		reaper:        reaper,
		logger:        logger.With("module", "sweeper"),
		sweepInterval: cfg.SweepInterval,
		idleCutoff:    cfg.IdleCutoff,
		batchSize:     cfg.BatchSize,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting session sweeper",
		"sweep_interval", s.sweepInterval, "idle_cutoff", s.idleCutoff)

	s.ticker = time.NewTicker(s.sweepInterval)
	s.done = make(chan bool)
	s.started = true

	go s.sweepLoop(ctx)

	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping session sweeper")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over expired waits and idle sessions. Exported so a
// deployment can also drive sweeps on demand.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepExpiredWaits(ctx)

	if s.idleCutoff > 0 {
		s.sweepIdleSessions(ctx)
	}
}

// sweepExpiredWaits resolves sessions whose wait timeout has passed. The
// session manager rechecks the timeout under the session lock, so a session
// resumed between the query and the call is left alone.
func (s *Sweeper) sweepExpiredWaits(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.persistence.Sessions().ExpiredWaitingSessions(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to query expired waiting sessions", "error", err)

		return
	}

	if len(expired) > 0 {
		s.logger.Info("Sweeping expired waits", "count", len(expired))
	}

	for _, session := range expired {
		if _, err := s.reaper.HandleWaitTimeout(ctx, session.ID); err != nil {
			if persistence.IsSessionNotFound(err) {
				continue
			}

			s.logger.Error("Failed to time out session",
				"session_id", session.ID, "error", err)
		}
	}
}

func (s *Sweeper) sweepIdleSessions(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.idleCutoff)

	idle, err := s.persistence.Sessions().IdleSessionsBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to query idle sessions", "error", err)

		return
	}

	if len(idle) > 0 {
		s.logger.Info("Sweeping idle sessions", "count", len(idle))
	}

	for _, session := range idle {
		// Paused sessions are held deliberately; not the sweeper's call.
		if session.Status == models.SessionStatusPaused {
			continue
		}

		if err := s.reaper.Abandon(ctx, session.ID, "abandoned after inactivity"); err != nil {
			if errors.Is(err, engine.ErrSessionTerminal) || persistence.IsSessionNotFound(err) {
				continue
			}

			s.logger.Error("Failed to abandon idle session",
				"session_id", session.ID, "error", err)
		}
	}
}
