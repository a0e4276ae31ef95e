package models

import "time"

// SessionSchemaVersion is stamped on persisted session and cursor blobs so
// stored state can be migrated if the serialized shape ever changes.
const SessionSchemaVersion = 1

// SessionStatus is the lifecycle state of a flow session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusTimeout   SessionStatus = "timeout"
)

// Terminal reports whether the status is one-way final. A terminal session
// never executes another node.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusAbandoned, SessionStatusTimeout:
		return true
	default:
		return false
	}
}

// Live reports whether the session still occupies its (flow, conversation)
// slot. At most one live session may exist per pair.
func (s SessionStatus) Live() bool {
	switch s {
	case SessionStatusActive, SessionStatusWaiting, SessionStatusPaused:
		return true
	default:
		return false
	}
}

// PathEntry records one visit to a node in the execution path.
type PathEntry struct {
	NodeID    string    `json:"node_id"`
	VisitedAt time.Time `json:"visited_at"`
}

// BranchDecision records the outcome of one branch evaluation.
type BranchDecision struct {
	NodeID     string    `json:"node_id"`
	Condition  string    `json:"condition"`
	ChosenEdge string    `json:"chosen_edge"`
	DecidedAt  time.Time `json:"decided_at"`
}

// FlowSession is one runtime instance of a flow bound to a conversation.
// It is the sole source of live truth for the session; StepExecution records
// are a separate append-only audit trail.
type FlowSession struct {
	ID             string        `json:"id"              validate:"required"`
	FlowID         string        `json:"flow_id"         validate:"required"`
	FlowVersion    int           `json:"flow_version"    validate:"gte=1"`
	ConversationID string        `json:"conversation_id" validate:"required"`
	ContactID      string        `json:"contact_id"      validate:"required"`
	ChannelType    string        `json:"channel_type,omitempty"`
	Status         SessionStatus `json:"status"`

	CurrentNodeID string `json:"current_node_id"`
	TriggerNodeID string `json:"trigger_node_id"`

	ExecutionPath []PathEntry      `json:"execution_path,omitempty"`
	BranchHistory []BranchDecision `json:"branch_history,omitempty"`

	SessionData    map[string]any            `json:"session_data,omitempty"`
	NodeState      map[string]map[string]any `json:"node_state,omitempty"`
	WaitingContext *WaitingContext           `json:"waiting_context,omitempty"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	ResumedAt      *time.Time `json:"resumed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	NodeExecutions   int `json:"node_executions"`
	UserInteractions int `json:"user_interactions"`
	ErrorCount       int `json:"error_count"`

	LastError     string `json:"last_error,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

// Touch updates the activity timestamp.
func (s *FlowSession) Touch(now time.Time) {
	s.LastActivityAt = now
}

// RecordVisit appends the node to the execution path and bumps the
// execution counter.
func (s *FlowSession) RecordVisit(nodeID string, now time.Time) {
	s.ExecutionPath = append(s.ExecutionPath, PathEntry{NodeID: nodeID, VisitedAt: now})
	s.NodeExecutions++
	s.Touch(now)
}

// RecordBranch appends a branch decision to the session's branching history.
func (s *FlowSession) RecordBranch(nodeID, condition, chosenEdge string, now time.Time) {
	s.BranchHistory = append(s.BranchHistory, BranchDecision{
		NodeID:     nodeID,
		Condition:  condition,
		ChosenEdge: chosenEdge,
		DecidedAt:  now,
	})
}
