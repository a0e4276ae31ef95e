package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// VariableRepository handles scoped variable storage. Values arrive already
// encoded (and possibly encrypted) by the variable store; rows here are
// opaque bytes plus scope bookkeeping.
type VariableRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewVariableRepository(db *sql.DB, logger *slog.Logger) *VariableRepository {
	return &VariableRepository{db: db, logger: logger}
}

const variableColumns = `
	id, scope, key, value, value_type, encrypted,
	session_id, flow_id, node_id, contact_id,
	expires_at, created_at, updated_at`

// GetVariable retrieves one variable by scope, key, and qualifiers.
func (r *VariableRepository) GetVariable(ctx context.Context, scope models.VariableScope, key string, q persistence.VariableQualifiers) (*models.SessionVariable, error) {
	query := `
		SELECT ` + variableColumns + `
		FROM session_variables
		WHERE scope = $1 AND key = $2
			AND session_id = $3 AND flow_id = $4 AND node_id = $5 AND contact_id = $6
	`

	variable, err := scanVariable(r.db.QueryRowContext(ctx, query, scope, key, q.SessionID, q.FlowID, q.NodeID, q.ContactID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVariableNotFound
		}

		return nil, fmt.Errorf("failed to load %s variable %q: %w", scope, key, err)
	}

	return variable, nil
}

// SetVariable upserts a variable. Last write wins on the scope-qualified key.
func (r *VariableRepository) SetVariable(ctx context.Context, variable *models.SessionVariable) error {
	query := `
		INSERT INTO session_variables (` + variableColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (scope, key, session_id, flow_id, node_id, contact_id) DO UPDATE SET
			value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			encrypted = EXCLUDED.encrypted,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		variable.ID, variable.Scope, variable.Key,
		variable.Value, variable.ValueType, variable.Encrypted,
		variable.SessionID, variable.FlowID, variable.NodeID, variable.ContactID,
		variable.ExpiresAt, variable.CreatedAt, variable.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s variable %q: %w", variable.Scope, variable.Key, err)
	}

	return nil
}

// DeleteVariable removes a variable. Deleting an absent key is not an error.
func (r *VariableRepository) DeleteVariable(ctx context.Context, scope models.VariableScope, key string, q persistence.VariableQualifiers) error {
	query := `
		DELETE FROM session_variables
		WHERE scope = $1 AND key = $2
			AND session_id = $3 AND flow_id = $4 AND node_id = $5 AND contact_id = $6
	`

	_, err := r.db.ExecContext(ctx, query, scope, key, q.SessionID, q.FlowID, q.NodeID, q.ContactID)
	if err != nil {
		return fmt.Errorf("failed to delete %s variable %q: %w", scope, key, err)
	}

	return nil
}

// VariablesInScope lists every variable visible under the scope and qualifiers.
func (r *VariableRepository) VariablesInScope(ctx context.Context, scope models.VariableScope, q persistence.VariableQualifiers) ([]*models.SessionVariable, error) {
	query := `
		SELECT ` + variableColumns + `
		FROM session_variables
		WHERE scope = $1
			AND session_id = $2 AND flow_id = $3 AND node_id = $4 AND contact_id = $5
		ORDER BY key ASC
	`

	rows, err := r.db.QueryContext(ctx, query, scope, q.SessionID, q.FlowID, q.NodeID, q.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s variables: %w", scope, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var vars []*models.SessionVariable

	for rows.Next() {
		variable, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}

		vars = append(vars, variable)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate variables: %w", err)
	}

	return vars, nil
}

func scanVariable(row rowScanner) (*models.SessionVariable, error) {
	var variable models.SessionVariable

	err := row.Scan(
		&variable.ID, &variable.Scope, &variable.Key,
		&variable.Value, &variable.ValueType, &variable.Encrypted,
		&variable.SessionID, &variable.FlowID, &variable.NodeID, &variable.ContactID,
		&variable.ExpiresAt, &variable.CreatedAt, &variable.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &variable, nil
}
