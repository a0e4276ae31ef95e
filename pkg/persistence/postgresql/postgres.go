// Package postgresql provides PostgreSQL persistence for flows, sessions,
// variables, step executions, and follow-up schedules.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	flowRepo     *FlowRepository
	sessionRepo  *SessionRepository
	variableRepo *VariableRepository
	stepRepo     *StepRepository
	scheduleRepo *ScheduleRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		flowRepo:     NewFlowRepository(database, logger),
		sessionRepo:  NewSessionRepository(database, logger),
		variableRepo: NewVariableRepository(database, logger),
		stepRepo:     NewStepRepository(database, logger),
		scheduleRepo: NewScheduleRepository(database, logger),
	}, nil
}

func (p *Persistence) Flows() persistence.FlowStore {
	return p.flowRepo
}

func (p *Persistence) Sessions() persistence.SessionStore {
	return p.sessionRepo
}

func (p *Persistence) Variables() persistence.VariableRepository {
	return p.variableRepo
}

func (p *Persistence) Steps() persistence.StepStore {
	return p.stepRepo
}

func (p *Persistence) Schedules() persistence.ScheduleStore {
	return p.scheduleRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
