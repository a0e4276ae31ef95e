// Package waits coordinates session suspension and resumption: it turns
// node wait requests into durable wait state and follow-up schedules, routes
// inbound conversation events to the session waiting on them, and handles
// fired schedules.
package waits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// scheduleRetryDelay spaces delivery retries of a failed follow-up send.
const scheduleRetryDelay = time.Minute

// SessionOps is the slice of the session manager the coordinator drives.
type SessionOps interface {
	Trigger(ctx context.Context, flowID string, version int, event *models.InputEvent) (*engine.SessionOutcome, error)
	Resume(ctx context.Context, sessionID string, event *models.InputEvent) (*engine.SessionOutcome, error)
}

// FlowMatcher decides which flow an inbound event should trigger when no
// session is waiting on its conversation.
type FlowMatcher interface {
	MatchFlow(ctx context.Context, event *models.InputEvent) (flowID string, version int, ok bool, err error)
}

// StaticMatcher routes every unmatched inbound event to one flow's published
// version. An empty flow id matches nothing.
type StaticMatcher struct {
	FlowID string
}

func (m StaticMatcher) MatchFlow(_ context.Context, _ *models.InputEvent) (string, int, bool, error) {
	return m.FlowID, 0, m.FlowID != "", nil
}

// Coordinator owns wait state and schedule handling. Bind must be called
// with the session manager before events are routed.
type Coordinator struct {
	persistence persistence.Persistence
	sender      protocol.ChannelSender
	matcher     FlowMatcher
	logger      *slog.Logger
	ops         SessionOps
}

// NewCoordinator creates a wait coordinator. The sender may be nil when no
// follow-up node carries content; the matcher may be nil when inbound events
// never trigger new sessions.
func NewCoordinator(p persistence.Persistence, sender protocol.ChannelSender, matcher FlowMatcher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		persistence: p,
		sender:      sender,
		matcher:     matcher,
		logger:      logger.With("module", "waits"),
	}
}

// Bind wires the session manager in after construction, breaking the
// construction-order cycle between the two.
func (c *Coordinator) Bind(ops SessionOps) {
	c.ops = ops
}

// RequestWait materializes a node's wait request. Input waits become cursor
// state with an optional timeout instant; timer waits additionally create a
// follow-up schedule pinned to an absolute fire time.
func (c *Coordinator) RequestWait(
	ctx context.Context,
	session *models.FlowSession,
	node *models.FlowNode,
	spec *protocol.WaitSpec,
) (*models.WaitingContext, error) {
	now := time.Now().UTC()

	if spec.Kind == models.WaitKindInput {
		wc := &models.WaitingContext{
			Kind:          models.WaitKindInput,
			ExpectedInput: spec.ExpectedInput,
			Pattern:       spec.Pattern,
			Options:       spec.Options,
			Reason:        spec.Reason,
		}

		if wc.ExpectedInput == "" {
			wc.ExpectedInput = models.InputTypeAny
		}

		if spec.Timeout > 0 {
			timeoutAt := now.Add(spec.Timeout)
			wc.TimeoutAt = &timeoutAt
		}

		return wc, nil
	}

	fireAt, condition, err := resolveFireTime(spec, now)
	if err != nil {
		return nil, err
	}

	schedule := models.NewFollowUpSchedule(uuid.NewString(), session.ID, condition, fireAt)
	schedule.FlowID = session.FlowID
	schedule.NodeID = node.ID
	schedule.CronExpression = spec.Cron
	schedule.Content = spec.Content

	schedule.ChannelType = spec.ChannelType
	if schedule.ChannelType == "" {
		schedule.ChannelType = session.ChannelType
	}

	if err := c.persistence.Schedules().SaveSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create follow-up schedule: %w", err)
	}

	c.logger.InfoContext(ctx, "Follow-up schedule created",
		"schedule_id", schedule.ID, "session_id", session.ID,
		"scheduled_for", schedule.ScheduledFor, "recurring", schedule.CronExpression != "")

	return &models.WaitingContext{
		Kind:       models.WaitKindTimer,
		ScheduleID: schedule.ID,
		Reason:     spec.Reason,
	}, nil
}

// resolveFireTime pins the schedule to an absolute instant at creation time.
// A relative delay resolved later would stretch across process restarts.
func resolveFireTime(spec *protocol.WaitSpec, now time.Time) (time.Time, models.TriggerCondition, error) {
	switch {
	case !spec.FireAt.IsZero():
		return spec.FireAt.UTC(), models.TriggerSpecificDatetime, nil
	case spec.Cron != "":
		cronSchedule, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("invalid cron expression %q: %w", spec.Cron, err)
		}

		return cronSchedule.Next(now), models.TriggerNodeExecution, nil
	default:
		return now.Add(spec.Delay), models.TriggerRelativeDelay, nil
	}
}

// OnScheduleFired handles one due schedule: delivers its content when it has
// any, resumes the waiting session with a synthetic timer event, and either
// retires the schedule or advances it to the next cron occurrence.
func (c *Coordinator) OnScheduleFired(ctx context.Context, scheduleID string) error {
	schedule, err := c.persistence.Schedules().ScheduleByID(ctx, scheduleID)
	if err != nil {
		return err
	}

	if schedule.Status != models.ScheduleStatusScheduled {
		return nil
	}

	session, _, err := c.persistence.Sessions().SessionByID(ctx, schedule.SessionID)
	if err != nil {
		if persistence.IsSessionNotFound(err) {
			return c.retire(ctx, schedule, models.ScheduleStatusExpired, "session no longer exists")
		}

		return err
	}

	if session.Status.Terminal() {
		return c.retire(ctx, schedule, models.ScheduleStatusExpired, "session is terminal")
	}

	now := time.Now().UTC()
	schedule.Attempts++
	schedule.LastAttemptAt = &now

	if len(schedule.Content) > 0 {
		if err := c.deliver(ctx, session, schedule); err != nil {
			return c.recordDeliveryFailure(ctx, schedule, err)
		}
	}

	if _, err := c.ops.Resume(ctx, schedule.SessionID, models.TimerEvent(schedule.ID)); err != nil {
		if errors.Is(err, engine.ErrSessionTerminal) || errors.Is(err, engine.ErrSessionNotWaiting) {
			return c.retire(ctx, schedule, models.ScheduleStatusExpired, err.Error())
		}

		if errors.Is(err, engine.ErrSessionPaused) {
			// Leave the schedule in place; it fires again after unpause.
			schedule.LastError = err.Error()
			schedule.UpdatedAt = now

			return c.persistence.Schedules().SaveSchedule(ctx, schedule)
		}

		return fmt.Errorf("failed to resume session %s from schedule %s: %w", schedule.SessionID, schedule.ID, err)
	}

	if schedule.CronExpression != "" {
		if err := schedule.AdvanceCron(now); err != nil {
			return c.retire(ctx, schedule, models.ScheduleStatusFailed, err.Error())
		}

		schedule.Attempts = 0
		schedule.LastError = ""

		return c.persistence.Schedules().SaveSchedule(ctx, schedule)
	}

	return c.retire(ctx, schedule, models.ScheduleStatusSent, "")
}

// OnInboundEvent routes an inbound conversation event: to the session
// waiting on the conversation when one exists, otherwise through the flow
// matcher to trigger a new session.
func (c *Coordinator) OnInboundEvent(ctx context.Context, event *models.InputEvent) error {
	waiting, err := c.persistence.Sessions().WaitingSessionForConversation(ctx, event.ConversationID)
	if err != nil && !persistence.IsSessionNotFound(err) {
		return err
	}

	if waiting != nil {
		_, err := c.ops.Resume(ctx, waiting.ID, event)
		if err != nil {
			if errors.Is(err, engine.ErrInputValidation) {
				c.logger.InfoContext(ctx, "Inbound message rejected by input validation",
					"session_id", waiting.ID, "error", err)

				return nil
			}

			if errors.Is(err, engine.ErrSessionNotWaiting) || errors.Is(err, engine.ErrSessionPaused) || errors.Is(err, engine.ErrSessionTerminal) {
				c.logger.InfoContext(ctx, "Inbound message not deliverable to session",
					"session_id", waiting.ID, "error", err)

				return nil
			}

			return err
		}

		return nil
	}

	if c.matcher == nil {
		return nil
	}

	flowID, version, ok, err := c.matcher.MatchFlow(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to match flow for conversation %s: %w", event.ConversationID, err)
	}

	if !ok {
		c.logger.DebugContext(ctx, "No flow matched inbound event", "conversation_id", event.ConversationID)

		return nil
	}

	if _, err := c.ops.Trigger(ctx, flowID, version, event); err != nil {
		if errors.Is(err, engine.ErrSessionConflict) {
			c.logger.InfoContext(ctx, "Trigger skipped, live session exists",
				"flow_id", flowID, "conversation_id", event.ConversationID)

			return nil
		}

		return err
	}

	return nil
}

func (c *Coordinator) deliver(ctx context.Context, session *models.FlowSession, schedule *models.FollowUpSchedule) error {
	if c.sender == nil {
		return errors.New("schedule carries content but no channel sender is configured")
	}

	_, err := c.sender.Send(ctx, session.ConversationID, schedule.ChannelType, schedule.Content)
	if err != nil {
		return fmt.Errorf("failed to deliver follow-up content: %w", err)
	}

	return nil
}

func (c *Coordinator) recordDeliveryFailure(ctx context.Context, schedule *models.FollowUpSchedule, cause error) error {
	schedule.LastError = cause.Error()

	if schedule.Attempts >= schedule.MaxAttempts {
		c.logger.ErrorContext(ctx, "Follow-up delivery failed permanently",
			"schedule_id", schedule.ID, "attempts", schedule.Attempts, "error", cause)

		return c.retire(ctx, schedule, models.ScheduleStatusFailed, cause.Error())
	}

	schedule.ScheduledFor = time.Now().UTC().Add(scheduleRetryDelay)
	schedule.UpdatedAt = time.Now().UTC()

	c.logger.WarnContext(ctx, "Follow-up delivery failed, retrying",
		"schedule_id", schedule.ID, "attempt", schedule.Attempts,
		"next_attempt_at", schedule.ScheduledFor, "error", cause)

	return c.persistence.Schedules().SaveSchedule(ctx, schedule)
}

func (c *Coordinator) retire(ctx context.Context, schedule *models.FollowUpSchedule, status models.ScheduleStatus, reason string) error {
	schedule.Status = status

	if reason != "" {
		schedule.LastError = reason
	}

	schedule.UpdatedAt = time.Now().UTC()

	return c.persistence.Schedules().SaveSchedule(ctx, schedule)
}
