// Package main provides the flowd worker, the process that executes flow
// sessions, polls follow-up schedules, and sweeps expired waits.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowd",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute flow sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres://... or memory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for distributed session locks (in-process locks if empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "default-flow-id",
				Usage:   "Flow triggered by inbound messages with no waiting session",
				Value:   "",
				Sources: cli.EnvVars("DEFAULT_FLOW_ID"),
			},
			&cli.StringFlag{
				Name:    "variable-encryption-key",
				Usage:   "Secret for encrypting sensitive session variables",
				Value:   "",
				Sources: cli.EnvVars("VARIABLE_ENCRYPTION_KEY"),
			},
			&cli.DurationFlag{
				Name:    "schedule-poll-interval",
				Usage:   "How often due follow-up schedules are polled",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("SCHEDULE_POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often expired waits and idle sessions are swept",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "idle-cutoff",
				Usage:   "Inactivity after which non-terminal sessions are abandoned (negative disables)",
				Value:   24 * time.Hour,
				Sources: cli.EnvVars("IDLE_CUTOFF"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowd").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing flowd worker")

			worker, err := NewWorker(ctx, workerID, logger, command)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize worker", "error", err)

				return err
			}
			defer worker.Close(ctx)

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Worker stopped with error", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
