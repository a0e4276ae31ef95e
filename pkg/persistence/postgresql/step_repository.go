package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/models"
)

// StepRepository is the append-only audit log of node executions. There is
// deliberately no update or delete statement in this file.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// AppendStep inserts one execution record.
func (r *StepRepository) AppendStep(ctx context.Context, step *models.StepExecution) error {
	inputJSON, err := marshalNullableMap(step.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	outputJSON, err := marshalNullableMap(step.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_executions (
			id, session_id, node_id, node_type, order_index,
			started_at, finished_at, duration_ms, status,
			input, output, error_message, retry_count, max_retries
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID, step.SessionID, step.NodeID, step.NodeType, step.OrderIndex,
		step.StartedAt, step.FinishedAt, step.DurationMs, step.Status,
		inputJSON, outputJSON, step.ErrorMessage, step.RetryCount, step.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to append step execution %s: %w", step.ID, err)
	}

	return nil
}

// StepsBySession returns the session's execution history in order.
func (r *StepRepository) StepsBySession(ctx context.Context, sessionID string) ([]*models.StepExecution, error) {
	query := `
		SELECT id, session_id, node_id, node_type, order_index,
			started_at, finished_at, duration_ms, status,
			input, output, error_message, retry_count, max_retries
		FROM step_executions
		WHERE session_id = $1
		ORDER BY order_index ASC, started_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps for session %s: %w", sessionID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var steps []*models.StepExecution

	for rows.Next() {
		var (
			step       models.StepExecution
			inputJSON  []byte
			outputJSON []byte
		)

		err := rows.Scan(
			&step.ID, &step.SessionID, &step.NodeID, &step.NodeType, &step.OrderIndex,
			&step.StartedAt, &step.FinishedAt, &step.DurationMs, &step.Status,
			&inputJSON, &outputJSON, &step.ErrorMessage, &step.RetryCount, &step.MaxRetries,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &step.Input); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
			}
		}

		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &step.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step executions: %w", err)
	}

	return steps, nil
}

func marshalNullableMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}

	return json.Marshal(m)
}
