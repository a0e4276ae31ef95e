package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// SessionRepository handles flow session and cursor storage. Session and
// cursor rows are written in one transaction so their current-node fields
// can never drift apart.
type SessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSessionRepository(db *sql.DB, logger *slog.Logger) *SessionRepository {
	return &SessionRepository{db: db, logger: logger}
}

const sessionColumns = `
	id, flow_id, flow_version, conversation_id, contact_id, channel_type,
	status, current_node_id, trigger_node_id,
	execution_path, branch_history, session_data, node_state, waiting_context,
	started_at, last_activity_at, paused_at, resumed_at, completed_at, expires_at,
	node_executions, user_interactions, error_count, last_error, schema_version`

// SaveSession upserts the session and its cursor atomically. A second live
// session for the same (flow, conversation) violates the partial unique
// index and surfaces as ErrDuplicateLiveSession.
func (r *SessionRepository) SaveSession(ctx context.Context, session *models.FlowSession, cursor *models.SessionCursor) error {
	executionPathJSON, err := json.Marshal(session.ExecutionPath)
	if err != nil {
		return fmt.Errorf("failed to marshal execution path: %w", err)
	}

	branchHistoryJSON, err := json.Marshal(session.BranchHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal branch history: %w", err)
	}

	sessionDataJSON, err := json.Marshal(session.SessionData)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	nodeStateJSON, err := json.Marshal(session.NodeState)
	if err != nil {
		return fmt.Errorf("failed to marshal node state: %w", err)
	}

	waitingContextJSON, err := marshalNullable(session.WaitingContext)
	if err != nil {
		return fmt.Errorf("failed to marshal waiting context: %w", err)
	}

	nextNodeIDsJSON, err := json.Marshal(cursor.NextNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal next node ids: %w", err)
	}

	loopCountsJSON, err := json.Marshal(cursor.LoopCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal loop counts: %w", err)
	}

	waitJSON, err := marshalNullable(cursor.Wait)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor wait: %w", err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}

	sessionQuery := `
		INSERT INTO flow_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_node_id = EXCLUDED.current_node_id,
			execution_path = EXCLUDED.execution_path,
			branch_history = EXCLUDED.branch_history,
			session_data = EXCLUDED.session_data,
			node_state = EXCLUDED.node_state,
			waiting_context = EXCLUDED.waiting_context,
			last_activity_at = EXCLUDED.last_activity_at,
			paused_at = EXCLUDED.paused_at,
			resumed_at = EXCLUDED.resumed_at,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at,
			node_executions = EXCLUDED.node_executions,
			user_interactions = EXCLUDED.user_interactions,
			error_count = EXCLUDED.error_count,
			last_error = EXCLUDED.last_error,
			schema_version = EXCLUDED.schema_version
	`

	_, err = transaction.ExecContext(ctx, sessionQuery,
		session.ID, session.FlowID, session.FlowVersion,
		session.ConversationID, session.ContactID, session.ChannelType,
		session.Status, session.CurrentNodeID, session.TriggerNodeID,
		executionPathJSON, branchHistoryJSON, sessionDataJSON, nodeStateJSON, waitingContextJSON,
		session.StartedAt, session.LastActivityAt, session.PausedAt, session.ResumedAt,
		session.CompletedAt, session.ExpiresAt,
		session.NodeExecutions, session.UserInteractions, session.ErrorCount,
		session.LastError, session.SchemaVersion,
	)
	if err != nil {
		_ = transaction.Rollback()

		if isUniqueViolation(err) {
			return persistence.NewSessionError("SaveSession", session.ID, persistence.ErrDuplicateLiveSession)
		}

		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}

	cursorQuery := `
		INSERT INTO session_cursors (
			session_id, current_node_id, previous_node_id,
			next_node_ids, loop_counts, wait, updated_at, schema_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			previous_node_id = EXCLUDED.previous_node_id,
			next_node_ids = EXCLUDED.next_node_ids,
			loop_counts = EXCLUDED.loop_counts,
			wait = EXCLUDED.wait,
			updated_at = EXCLUDED.updated_at,
			schema_version = EXCLUDED.schema_version
	`

	_, err = transaction.ExecContext(ctx, cursorQuery,
		cursor.SessionID, cursor.CurrentNodeID, cursor.PreviousNodeID,
		nextNodeIDsJSON, loopCountsJSON, waitJSON,
		cursor.UpdatedAt, cursor.SchemaVersion,
	)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to save cursor for session %s: %w", session.ID, err)
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", session.ID, err)
	}

	return nil
}

// SessionByID retrieves a session together with its cursor.
func (r *SessionRepository) SessionByID(ctx context.Context, id string) (*models.FlowSession, *models.SessionCursor, error) {
	sessionQuery := `SELECT ` + sessionColumns + ` FROM flow_sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, sessionQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, persistence.NewSessionError("SessionByID", id, persistence.ErrSessionNotFound)
		}

		return nil, nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	cursorQuery := `
		SELECT session_id, current_node_id, previous_node_id,
			next_node_ids, loop_counts, wait, updated_at, schema_version
		FROM session_cursors
		WHERE session_id = $1
	`

	cursor, err := scanCursor(r.db.QueryRowContext(ctx, cursorQuery, id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cursor for session %s: %w", id, err)
	}

	return session, cursor, nil
}

// LiveSession returns the single active/waiting/paused session for the
// (flow, conversation) pair.
func (r *SessionRepository) LiveSession(ctx context.Context, flowID, conversationID string) (*models.FlowSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM flow_sessions
		WHERE flow_id = $1 AND conversation_id = $2
			AND status IN ('active', 'waiting', 'paused')
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, flowID, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to load live session for flow %s conversation %s: %w", flowID, conversationID, err)
	}

	return session, nil
}

// WaitingSessionForConversation returns the session waiting on the
// conversation, if any. Oldest wait wins when several flows wait at once.
func (r *SessionRepository) WaitingSessionForConversation(ctx context.Context, conversationID string) (*models.FlowSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM flow_sessions
		WHERE conversation_id = $1 AND status = 'waiting'
		ORDER BY last_activity_at ASC
		LIMIT 1
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to load waiting session for conversation %s: %w", conversationID, err)
	}

	return session, nil
}

// ExpiredWaitingSessions lists waiting sessions whose wait timeout passed.
func (r *SessionRepository) ExpiredWaitingSessions(ctx context.Context, now time.Time, limit int) ([]*models.FlowSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM flow_sessions s
		JOIN session_cursors c ON c.session_id = s.id
		WHERE s.status = 'waiting'
			AND c.wait ? 'timeout_at'
			AND (c.wait->>'timeout_at')::timestamptz <= $1
		ORDER BY (c.wait->>'timeout_at')::timestamptz ASC
		LIMIT $2
	`

	return r.querySessions(ctx, query, now, limit)
}

// IdleSessionsBefore lists non-terminal sessions with no activity since the cutoff.
func (r *SessionRepository) IdleSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FlowSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM flow_sessions
		WHERE status IN ('active', 'waiting', 'paused')
			AND last_activity_at < $1
		ORDER BY last_activity_at ASC
		LIMIT $2
	`

	return r.querySessions(ctx, query, cutoff, limit)
}

func (r *SessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]*models.FlowSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var sessions []*models.FlowSession

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.FlowSession, error) {
	var (
		session            models.FlowSession
		executionPathJSON  []byte
		branchHistoryJSON  []byte
		sessionDataJSON    []byte
		nodeStateJSON      []byte
		waitingContextJSON []byte
	)

	err := row.Scan(
		&session.ID, &session.FlowID, &session.FlowVersion,
		&session.ConversationID, &session.ContactID, &session.ChannelType,
		&session.Status, &session.CurrentNodeID, &session.TriggerNodeID,
		&executionPathJSON, &branchHistoryJSON, &sessionDataJSON, &nodeStateJSON, &waitingContextJSON,
		&session.StartedAt, &session.LastActivityAt, &session.PausedAt, &session.ResumedAt,
		&session.CompletedAt, &session.ExpiresAt,
		&session.NodeExecutions, &session.UserInteractions, &session.ErrorCount,
		&session.LastError, &session.SchemaVersion,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(executionPathJSON, &session.ExecutionPath); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution path: %w", err)
	}

	if err := json.Unmarshal(branchHistoryJSON, &session.BranchHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal branch history: %w", err)
	}

	if err := json.Unmarshal(sessionDataJSON, &session.SessionData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	if err := json.Unmarshal(nodeStateJSON, &session.NodeState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node state: %w", err)
	}

	if len(waitingContextJSON) > 0 {
		if err := json.Unmarshal(waitingContextJSON, &session.WaitingContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal waiting context: %w", err)
		}
	}

	return &session, nil
}

func scanCursor(row rowScanner) (*models.SessionCursor, error) {
	var (
		cursor          models.SessionCursor
		nextNodeIDsJSON []byte
		loopCountsJSON  []byte
		waitJSON        []byte
	)

	err := row.Scan(
		&cursor.SessionID, &cursor.CurrentNodeID, &cursor.PreviousNodeID,
		&nextNodeIDsJSON, &loopCountsJSON, &waitJSON,
		&cursor.UpdatedAt, &cursor.SchemaVersion,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nextNodeIDsJSON, &cursor.NextNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next node ids: %w", err)
	}

	if err := json.Unmarshal(loopCountsJSON, &cursor.LoopCounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal loop counts: %w", err)
	}

	if len(waitJSON) > 0 {
		if err := json.Unmarshal(waitJSON, &cursor.Wait); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cursor wait: %w", err)
		}
	}

	return &cursor, nil
}

// marshalNullable keeps NULL columns NULL instead of storing the JSON null
// literal.
func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch typed := v.(type) {
	case *models.WaitingContext:
		if typed == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
