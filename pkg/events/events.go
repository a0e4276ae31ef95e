// Package events defines event types and structures for session lifecycle
// notifications and inbound engine triggers.
package events

import (
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

type EventType string

// Bus topics.
const (
	// SessionTopic carries outbound session lifecycle events for the rest of
	// the platform (UI progress, analytics, support tooling).
	SessionTopic = "convoflow.sessions"

	// InboundTopic carries events delivered to the engine: inbound
	// conversation messages, fired schedules, and manual triggers.
	InboundTopic = "convoflow.inbound"

	// OutboundTopic carries message-send requests consumed by the channel
	// adapters (WhatsApp/email/SMS/webchat transports).
	OutboundTopic = "convoflow.outbound"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Session lifecycle events.
	SessionStartedEvent   EventType = "session.started"
	SessionWaitingEvent   EventType = "session.waiting"
	SessionResumedEvent   EventType = "session.resumed"
	SessionPausedEvent    EventType = "session.paused"
	SessionUnpausedEvent  EventType = "session.unpaused"
	SessionCompletedEvent EventType = "session.completed"
	SessionFailedEvent    EventType = "session.failed"
	SessionCancelledEvent EventType = "session.cancelled"
	SessionTimeoutEvent   EventType = "session.timeout"

	// Node execution events.
	NodeExecutedEvent EventType = "node.executed"

	// Inbound engine triggers.
	InboundMessageEvent EventType = "inbound.message"
	ScheduleFiredEvent  EventType = "schedule.fired"
	ManualTriggerEvent  EventType = "trigger.manual"

	// Outbound channel sends.
	MessageSendRequestedEvent EventType = "message.send_requested"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	SessionID      string         `json:"session_id,omitempty"`
	FlowID         string         `json:"flow_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	WorkerID       string         `json:"worker_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SessionLifecycle is published on every session status change.
type SessionLifecycle struct {
	BaseEvent

	Status        models.SessionStatus `json:"status"`
	CurrentNodeID string               `json:"current_node_id,omitempty"`
	LastError     string               `json:"last_error,omitempty"`
}

func (e SessionLifecycle) GetType() EventType {
	return e.Type
}

// NodeExecuted is published after each node execution attempt completes.
type NodeExecuted struct {
	BaseEvent

	NodeID     string            `json:"node_id"`
	NodeType   models.NodeType   `json:"node_type"`
	Status     models.StepStatus `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

func (e NodeExecuted) GetType() EventType {
	return NodeExecutedEvent
}

// InboundMessage is a new conversation message from a channel adapter.
type InboundMessage struct {
	BaseEvent

	ContactID   string `json:"contact_id"`
	ChannelType string `json:"channel_type"`
	Content     string `json:"content"`
	ExternalID  string `json:"external_id,omitempty"`
}

func (e InboundMessage) GetType() EventType {
	return InboundMessageEvent
}

// ScheduleFired signals a follow-up schedule reached its fire time.
type ScheduleFired struct {
	BaseEvent

	ScheduleID string `json:"schedule_id"`
}

func (e ScheduleFired) GetType() EventType {
	return ScheduleFiredEvent
}

// ManualTrigger is an operator/API driven flow start.
type ManualTrigger struct {
	BaseEvent

	ContactID     string `json:"contact_id"`
	TriggerNodeID string `json:"trigger_node_id,omitempty"`
}

func (e ManualTrigger) GetType() EventType {
	return ManualTriggerEvent
}

// MessageSendRequested asks a channel adapter to deliver a message.
type MessageSendRequested struct {
	BaseEvent

	ChannelType string         `json:"channel_type"`
	Message     map[string]any `json:"message"`
}

func (e MessageSendRequested) GetType() EventType {
	return MessageSendRequestedEvent
}
