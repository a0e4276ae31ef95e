// Package web provides the HTTP API for flow management and session control.
package web

import (
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// SaveFlowRequest represents the request body for creating or updating a flow
// version. The graph is validated before it is stored.
type SaveFlowRequest struct {
	ID          string            `json:"id"            validate:"required"`
	Version     int               `json:"version"       validate:"gte=1"`
	Name        string            `json:"name"          validate:"required,min=3"`
	Status      models.FlowStatus `json:"status"        validate:"omitempty,oneof=draft published archived"`
	StartNodeID string            `json:"start_node_id" validate:"required"`
	Nodes       []models.FlowNode `json:"nodes"         validate:"required,min=1"`
	Edges       []models.FlowEdge `json:"edges"`
}

// TriggerSessionRequest represents the request body for starting a session.
// Version 0 selects the latest published version of the flow.
type TriggerSessionRequest struct {
	FlowID         string `json:"flow_id"         validate:"required"`
	Version        int    `json:"version"         validate:"gte=0"`
	ConversationID string `json:"conversation_id" validate:"required"`
	ContactID      string `json:"contact_id"`
	ChannelType    string `json:"channel_type"`
	Content        string `json:"content"`
}

// SessionEventRequest represents an input event injected into a waiting
// session, for example a message relayed by an operator console.
type SessionEventRequest struct {
	Content    string         `json:"content"     validate:"required"`
	ExternalID string         `json:"external_id"`
	Metadata   map[string]any `json:"metadata"`
}

// CancelSessionRequest carries the optional cancellation reason recorded on
// the session.
type CancelSessionRequest struct {
	Reason string `json:"reason"`
}

// InboundEventRequest represents a conversation message relayed by a channel
// adapter. It is routed to the waiting session for the conversation, or
// through flow matching when no session is waiting.
type InboundEventRequest struct {
	ConversationID string         `json:"conversation_id" validate:"required"`
	ContactID      string         `json:"contact_id"`
	ChannelType    string         `json:"channel_type"`
	Content        string         `json:"content"         validate:"required"`
	ExternalID     string         `json:"external_id"`
	Metadata       map[string]any `json:"metadata"`
}

// SessionResponse is the session detail payload, the durable record plus the
// cursor the engine walks with.
type SessionResponse struct {
	Session *models.FlowSession   `json:"session"`
	Cursor  *models.SessionCursor `json:"cursor,omitempty"`
}

// StepsResponse is the execution audit trail of a session in order.
type StepsResponse struct {
	SessionID string                  `json:"session_id"`
	Steps     []*models.StepExecution `json:"steps"`
}

// VariablesResponse is the merged variable snapshot visible to a session,
// narrowest scope winning on key collisions.
type VariablesResponse struct {
	SessionID string         `json:"session_id"`
	Variables map[string]any `json:"variables"`
}

// HealthResponse reports storage connectivity.
type HealthResponse struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}
