package models

import "time"

// EventKind classifies an inbound event delivered to the engine.
type EventKind string

const (
	// EventKindMessage is a new inbound conversation message.
	EventKindMessage EventKind = "message"
	// EventKindTimer is a synthetic event produced when a follow-up schedule fires.
	EventKindTimer EventKind = "timer"
	// EventKindManual is an operator or API driven trigger.
	EventKindManual EventKind = "manual"
)

// InputEvent is an inbound event consumed by the session manager, either to
// trigger a new session or to resume a waiting one.
type InputEvent struct {
	Kind           EventKind      `json:"kind"`
	ConversationID string         `json:"conversation_id"`
	ContactID      string         `json:"contact_id,omitempty"`
	ChannelType    string         `json:"channel_type,omitempty"`
	Content        string         `json:"content,omitempty"`
	ExternalID     string         `json:"external_id,omitempty"`
	ScheduleID     string         `json:"schedule_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// TimerEvent builds the synthetic input event used to resume a timer wait.
func TimerEvent(scheduleID string) *InputEvent {
	return &InputEvent{
		Kind:       EventKindTimer,
		ScheduleID: scheduleID,
		ReceivedAt: time.Now().UTC(),
	}
}
