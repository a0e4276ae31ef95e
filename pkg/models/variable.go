package models

import "time"

// VariableScope is the lifetime/visibility tier of a stored variable.
// Unscoped reads resolve narrowest to widest: session, node, flow, user, global.
type VariableScope string

const (
	ScopeGlobal  VariableScope = "global"
	ScopeFlow    VariableScope = "flow"
	ScopeNode    VariableScope = "node"
	ScopeUser    VariableScope = "user"
	ScopeSession VariableScope = "session"
)

// ResolutionOrder lists scopes from narrowest to widest for unscoped lookups.
var ResolutionOrder = []VariableScope{ScopeSession, ScopeNode, ScopeFlow, ScopeUser, ScopeGlobal}

// ValueType is the declared type of a variable value.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeJSON    ValueType = "json"
)

// SessionVariable is a scoped key/value pair. The qualifier fields that apply
// depend on the scope: session scope binds SessionID, node scope binds
// SessionID+NodeID, flow scope binds FlowID, user scope binds ContactID and
// outlives the session, global scope binds nothing.
type SessionVariable struct {
	ID        string        `json:"id"`
	Scope     VariableScope `json:"scope" validate:"required"`
	Key       string        `json:"key"   validate:"required"`
	Value     []byte        `json:"value"`
	ValueType ValueType     `json:"value_type"`
	Encrypted bool          `json:"encrypted"`

	SessionID string `json:"session_id,omitempty"`
	FlowID    string `json:"flow_id,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Expired reports whether the value's expiry has passed.
func (v *SessionVariable) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

// VariableOptions control how a variable is written.
type VariableOptions struct {
	Type      ValueType
	Encrypted bool
	TTL       time.Duration
}
