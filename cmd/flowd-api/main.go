// Package main provides the flowd API server: flow management and session
// control over HTTP.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowd-api",
		EnableShellCompletion: true,
		Usage:                 "Start the flow management API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "variable-encryption-key",
				Usage:   "Secret for encrypting sensitive session variables",
				Value:   "",
				Sources: cli.EnvVars("VARIABLE_ENCRYPTION_KEY"),
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

			logger := log.WithModule("flowd-api")
			logger.InfoContext(ctx, "Initializing flowd API")

			api, err := NewAPI(ctx, logger, command)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize API", "error", err)

				return err
			}
			defer api.Close(ctx)

			return api.Start(int(command.Int("port")))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
