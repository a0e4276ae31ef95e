// Package scheduler implements the centralized follow-up poller: a single
// ticker loop that queries the database for ALL due schedules and hands each
// one to the wait coordinator, regardless of how the schedule was created.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/convoflow/convoflow/pkg/persistence"
)

const (
	// DefaultPollInterval is how often the poller checks for due schedules.
	DefaultPollInterval = 10 * time.Second

	// DefaultBatchSize bounds how many due schedules one poll processes.
	DefaultBatchSize = 100
)

// ScheduleHandler processes one due schedule. Implemented by the wait
// coordinator.
type ScheduleHandler interface {
	OnScheduleFired(ctx context.Context, scheduleID string) error
}

// Scheduler polls for due follow-up schedules.
type Scheduler struct {
	persistence  persistence.Persistence
	handler      ScheduleHandler
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

// Config tunes the schedule poller; zero values take defaults.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewScheduler(p persistence.Persistence, handler ScheduleHandler, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Scheduler{
		persistence:  p,
		handler:      handler,
		logger:       logger.With("module", "scheduler"),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
}

// Start begins the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting follow-up schedule poller", "poll_interval", s.pollInterval)

	s.ticker = time.NewTicker(s.pollInterval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	return nil
}

// Stop gracefully shuts down the poller.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping follow-up schedule poller")

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

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.processDueSchedules(ctx)
		}
	}
}

// processDueSchedules queries for every schedule past its fire time and
// dispatches each to the handler. One failing schedule does not block the
// rest of the batch.
func (s *Scheduler) processDueSchedules(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.persistence.Schedules().DueSchedules(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to query due schedules", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.Info("Processing due schedules", "count", len(due))
	}

	for _, schedule := range due {
		if err := s.handler.OnScheduleFired(ctx, schedule.ID); err != nil {
			s.logger.Error("Failed to process due schedule",
				"schedule_id", schedule.ID,
				"session_id", schedule.SessionID,
				"error", err)
		}
	}
}
