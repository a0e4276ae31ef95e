package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerCondition classifies why a follow-up schedule exists.
type TriggerCondition string

const (
	TriggerConversationStart TriggerCondition = "conversation_start"
	TriggerNodeExecution     TriggerCondition = "node_execution"
	TriggerSpecificDatetime  TriggerCondition = "specific_datetime"
	TriggerRelativeDelay     TriggerCondition = "relative_delay"
)

// ScheduleStatus is the delivery state of a follow-up schedule.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusSent      ScheduleStatus = "sent"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusExpired   ScheduleStatus = "expired"
)

// DefaultScheduleAttempts bounds delivery retries for a schedule.
const DefaultScheduleAttempts = 3

// FollowUpSchedule is a durable deferred trigger. ScheduledFor is always an
// absolute instant: relative delays are resolved at creation time so a
// process restart cannot stretch them. A non-empty CronExpression makes the
// schedule recurring; after each fire the next occurrence is computed from
// the expression.
type FollowUpSchedule struct {
	ID        string `json:"id"         validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
	FlowID    string `json:"flow_id"`
	NodeID    string `json:"node_id"`

	Condition      TriggerCondition `json:"condition"`
	ScheduledFor   time.Time        `json:"scheduled_for"`
	CronExpression string           `json:"cron_expression,omitempty"`

	ChannelType string         `json:"channel_type,omitempty"`
	Content     map[string]any `json:"content,omitempty"`

	Status        ScheduleStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFollowUpSchedule creates a schedule firing at the given absolute instant.
func NewFollowUpSchedule(id, sessionID string, condition TriggerCondition, fireAt time.Time) *FollowUpSchedule {
	now := time.Now().UTC()

	return &FollowUpSchedule{
		ID:           id,
		SessionID:    sessionID,
		Condition:    condition,
		ScheduledFor: fireAt.UTC(),
		Status:       ScheduleStatusScheduled,
		MaxAttempts:  DefaultScheduleAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Due reports whether the schedule should fire at the given instant.
func (s *FollowUpSchedule) Due(now time.Time) bool {
	return s.Status == ScheduleStatusScheduled && !now.Before(s.ScheduledFor)
}

// AdvanceCron moves ScheduledFor to the next occurrence of the cron
// expression after the reference time. Fails on non-recurring schedules.
func (s *FollowUpSchedule) AdvanceCron(reference time.Time) error {
	if s.CronExpression == "" {
		return fmt.Errorf("schedule %s is not recurring", s.ID)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return fmt.Errorf("failed to parse cron expression %q: %w", s.CronExpression, err)
	}

	s.ScheduledFor = cronSchedule.Next(reference.UTC())
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// ValidateCronExpression checks a 5-field cron expression without building a schedule.
func ValidateCronExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	return nil
}
