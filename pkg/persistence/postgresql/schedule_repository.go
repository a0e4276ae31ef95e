package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// ScheduleRepository handles follow-up schedule storage.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
	id, session_id, flow_id, node_id, condition, scheduled_for, cron_expression,
	channel_type, content, status, attempts, max_attempts,
	last_attempt_at, last_error, created_at, updated_at`

// SaveSchedule upserts a schedule.
func (r *ScheduleRepository) SaveSchedule(ctx context.Context, schedule *models.FollowUpSchedule) error {
	contentJSON, err := marshalNullableMap(schedule.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule content: %w", err)
	}

	query := `
		INSERT INTO follow_up_schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			scheduled_for = EXCLUDED.scheduled_for,
			cron_expression = EXCLUDED.cron_expression,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID, schedule.SessionID, schedule.FlowID, schedule.NodeID,
		schedule.Condition, schedule.ScheduledFor, schedule.CronExpression,
		schedule.ChannelType, contentJSON, schedule.Status,
		schedule.Attempts, schedule.MaxAttempts,
		schedule.LastAttemptAt, schedule.LastError,
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

// ScheduleByID retrieves one schedule.
func (r *ScheduleRepository) ScheduleByID(ctx context.Context, id string) (*models.FollowUpSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM follow_up_schedules WHERE id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to load schedule %s: %w", id, err)
	}

	return schedule, nil
}

// DueSchedules lists schedules past their fire time, soonest first.
func (r *ScheduleRepository) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM follow_up_schedules
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var schedules []*models.FollowUpSchedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}

	return schedules, nil
}

// CancelSchedulesForSession cancels every outstanding schedule of a session.
func (r *ScheduleRepository) CancelSchedulesForSession(ctx context.Context, sessionID string) error {
	query := `
		UPDATE follow_up_schedules
		SET status = 'cancelled', updated_at = NOW()
		WHERE session_id = $1 AND status = 'scheduled'
	`

	_, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("failed to cancel schedules for session %s: %w", sessionID, err)
	}

	return nil
}

func scanSchedule(row rowScanner) (*models.FollowUpSchedule, error) {
	var (
		schedule    models.FollowUpSchedule
		contentJSON []byte
	)

	err := row.Scan(
		&schedule.ID, &schedule.SessionID, &schedule.FlowID, &schedule.NodeID,
		&schedule.Condition, &schedule.ScheduledFor, &schedule.CronExpression,
		&schedule.ChannelType, &contentJSON, &schedule.Status,
		&schedule.Attempts, &schedule.MaxAttempts,
		&schedule.LastAttemptAt, &schedule.LastError,
		&schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &schedule.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule content: %w", err)
		}
	}

	return &schedule, nil
}
