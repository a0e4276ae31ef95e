// Package persistence provides the data storage abstraction for flows,
// sessions, variables, step executions, and follow-up schedules.
package persistence

import (
	"context"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// FlowStore reads flow definitions. Flows are owned by the external editor;
// the engine reads pinned versions only. SaveFlow exists for tooling and
// tests.
type FlowStore interface {
	FlowByVersion(ctx context.Context, id string, version int) (*models.Flow, error)
	PublishedFlow(ctx context.Context, id string) (*models.Flow, error)
	SaveFlow(ctx context.Context, flow *models.Flow) error
}

// SessionStore persists flow sessions and their cursors. Session and cursor
// are written together in one call so their current-node fields can never
// drift apart.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.FlowSession, cursor *models.SessionCursor) error
	SessionByID(ctx context.Context, id string) (*models.FlowSession, *models.SessionCursor, error)

	// LiveSession returns the single active/waiting/paused session for the
	// (flow, conversation) pair, or ErrSessionNotFound.
	LiveSession(ctx context.Context, flowID, conversationID string) (*models.FlowSession, error)

	// WaitingSessionForConversation returns the session waiting for input on
	// the conversation, if any.
	WaitingSessionForConversation(ctx context.Context, conversationID string) (*models.FlowSession, error)

	// ExpiredWaitingSessions lists waiting sessions whose wait timeout passed.
	ExpiredWaitingSessions(ctx context.Context, now time.Time, limit int) ([]*models.FlowSession, error)

	// IdleSessionsBefore lists non-terminal sessions with no activity since
	// the cutoff, candidates for abandonment.
	IdleSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FlowSession, error)
}

// VariableRepository stores scoped session variables. The qualifier fields of
// the query struct that apply depend on the scope.
type VariableRepository interface {
	GetVariable(ctx context.Context, scope models.VariableScope, key string, q VariableQualifiers) (*models.SessionVariable, error)
	SetVariable(ctx context.Context, variable *models.SessionVariable) error
	DeleteVariable(ctx context.Context, scope models.VariableScope, key string, q VariableQualifiers) error
	VariablesInScope(ctx context.Context, scope models.VariableScope, q VariableQualifiers) ([]*models.SessionVariable, error)
}

// VariableQualifiers narrow a variable lookup to its owning session, flow,
// node, or contact.
type VariableQualifiers struct {
	SessionID string
	FlowID    string
	NodeID    string
	ContactID string
}

// StepStore is the append-only audit log of node executions. There is
// deliberately no update or delete API.
type StepStore interface {
	AppendStep(ctx context.Context, step *models.StepExecution) error
	StepsBySession(ctx context.Context, sessionID string) ([]*models.StepExecution, error)
}

// ScheduleStore persists follow-up schedules.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, schedule *models.FollowUpSchedule) error
	ScheduleByID(ctx context.Context, id string) (*models.FollowUpSchedule, error)
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpSchedule, error)
	CancelSchedulesForSession(ctx context.Context, sessionID string) error
}

// Persistence aggregates the engine's stores behind one connection lifecycle.
type Persistence interface {
	Flows() FlowStore
	Sessions() SessionStore
	Variables() VariableRepository
	Steps() StepStore
	Schedules() ScheduleStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
