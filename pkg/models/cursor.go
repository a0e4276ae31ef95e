package models

import "time"

// WaitKind distinguishes what a waiting session is suspended on.
type WaitKind string

const (
	// WaitKindInput suspends until the next matching inbound message.
	WaitKindInput WaitKind = "input"
	// WaitKindTimer suspends until a scheduled instant.
	WaitKindTimer WaitKind = "timer"
)

// InputType declares what kind of inbound content a waiting session expects.
type InputType string

const (
	InputTypeAny    InputType = "any"
	InputTypeText   InputType = "text"
	InputTypeNumber InputType = "number"
	InputTypeEmail  InputType = "email"
	InputTypePhone  InputType = "phone"
	InputTypeOption InputType = "option"
)

// WaitingContext describes what a session is waiting for and why.
type WaitingContext struct {
	Kind          WaitKind   `json:"kind"`
	ExpectedInput InputType  `json:"expected_input,omitempty"`
	Pattern       string     `json:"pattern,omitempty"`
	Options       []string   `json:"options,omitempty"`
	TimeoutAt     *time.Time `json:"timeout_at,omitempty"`
	ScheduleID    string     `json:"schedule_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// SessionCursor is the session's position in the graph: current and previous
// node, the candidate next nodes before condition evaluation, loop iteration
// counts, and the live wait state. A session has exactly one cursor, and its
// CurrentNodeID always equals the session's CurrentNodeID; the session
// manager persists both in the same call.
type SessionCursor struct {
	SessionID      string          `json:"session_id"`
	CurrentNodeID  string          `json:"current_node_id"`
	PreviousNodeID string          `json:"previous_node_id,omitempty"`
	NextNodeIDs    []string        `json:"next_node_ids,omitempty"`
	LoopCounts     map[string]int  `json:"loop_counts,omitempty"`
	Wait           *WaitingContext `json:"wait,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	SchemaVersion  int             `json:"schema_version"`
}
