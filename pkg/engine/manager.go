// Package engine implements the session manager: the per-conversation state
// machine that walks a flow graph node by node, suspends on waits, resumes
// on inbound events, and records an append-only step audit trail. Every
// execution path holds the session's exclusive lock from load to persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/convoflow/convoflow/pkg/cursor"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/lock"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/otelhelper"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/variables"
)

const (
	// DefaultMaxStepsPerRun bounds how many nodes one run may execute before
	// the session yields back to the scheduler.
	DefaultMaxStepsPerRun = 100

	// DefaultLockTTL bounds how long a crashed worker can hold a session lock.
	DefaultLockTTL = 30 * time.Second

	// cancelAcquireWait is how long Cancel tries to take the lock before
	// queueing the cancellation for the running worker instead.
	cancelAcquireWait = 100 * time.Millisecond

	// waitReasonYield marks the synthetic timer wait created when a run
	// exhausts its step budget. The resuming timer event is not handed to
	// the node in that case.
	waitReasonYield = "step budget exhausted"
)

// WaitRequester turns a node's wait request into durable wait state. Timer
// waits additionally create a follow-up schedule; relative delays are
// resolved to absolute instants here, at request time.
type WaitRequester interface {
	RequestWait(ctx context.Context, session *models.FlowSession, node *models.FlowNode, spec *protocol.WaitSpec) (*models.WaitingContext, error)
}

// Config tunes a session manager.
type Config struct {
	WorkerID       string
	MaxStepsPerRun int
	LockTTL        time.Duration
}

// Manager drives flow sessions. It is safe for concurrent use; concurrent
// operations on the same session serialize on the session lock.
type Manager struct {
	persistence persistence.Persistence
	variables   *variables.Store
	registry    *registry.Registry
	locker      lock.Locker
	publisher   eventbus.EventPublisher
	waits       WaitRequester
	tracer      trace.Tracer
	validate    *validator.Validate
	logger      *slog.Logger

	workerID       string
	maxStepsPerRun int
	lockTTL        time.Duration

	pendingCancels sync.Map
}

// SessionOutcome reports the state a session reached after one operation.
type SessionOutcome struct {
	Session *models.FlowSession
	Cursor  *models.SessionCursor
	Steps   int
}

// NewManager creates a session manager. The publisher and tracer may be nil;
// lifecycle events and spans are then skipped.
func NewManager(
	p persistence.Persistence,
	vars *variables.Store,
	reg *registry.Registry,
	locker lock.Locker,
	publisher eventbus.EventPublisher,
	waits WaitRequester,
	tracer trace.Tracer,
	logger *slog.Logger,
	cfg Config,
) *Manager {
	if cfg.MaxStepsPerRun <= 0 {
		cfg.MaxStepsPerRun = DefaultMaxStepsPerRun
	}

	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}

	return &Manager{
		persistence:    p,
		variables:      vars,
		registry:       reg,
		locker:         locker,
		publisher:      publisher,
		waits:          waits,
		tracer:         tracer,
		validate:       validator.New(),
		logger:         logger.With("module", "engine"),
		workerID:       cfg.WorkerID,
		maxStepsPerRun: cfg.MaxStepsPerRun,
		lockTTL:        cfg.LockTTL,
	}
}

// Trigger starts a new session for the flow on the event's conversation and
// executes it until it waits, terminates, or exhausts the step budget. A
// version of zero pins the currently published flow version. The triggering
// event is visible to the first node only.
func (m *Manager) Trigger(ctx context.Context, flowID string, version int, event *models.InputEvent) (*SessionOutcome, error) {
	ctx, span := m.startSpan(ctx, "engine.trigger",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.ConversationIDKey, event.ConversationID),
	)
	defer span.End()

	flow, err := m.loadFlow(ctx, flowID, version)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("cannot trigger invalid flow: %w", err)
	}

	if existing, err := m.persistence.Sessions().LiveSession(ctx, flow.ID, event.ConversationID); err == nil {
		return nil, fmt.Errorf("%w: session %s", ErrSessionConflict, existing.ID)
	} else if !persistence.IsSessionNotFound(err) {
		return nil, fmt.Errorf("failed to check live session: %w", err)
	}

	now := time.Now().UTC()
	session := &models.FlowSession{
		ID:             uuid.NewString(),
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		ConversationID: event.ConversationID,
		ContactID:      event.ContactID,
		ChannelType:    event.ChannelType,
		Status:         models.SessionStatusActive,
		CurrentNodeID:  flow.StartNodeID,
		TriggerNodeID:  flow.StartNodeID,
		StartedAt:      now,
		LastActivityAt: now,
		SchemaVersion:  models.SessionSchemaVersion,
	}

	tracker := cursor.NewTracker(flow)
	cur := tracker.InitCursor(session.ID, flow.StartNodeID)

	unlock, err := m.locker.Acquire(ctx, sessionLockKey(session.ID), m.lockTTL)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx, unlock)

	if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
		if persistence.IsDuplicateLiveSession(err) {
			return nil, fmt.Errorf("%w: %w", ErrSessionConflict, err)
		}

		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.InfoContext(ctx, "Session started",
		"session_id", session.ID, "flow_id", flow.ID, "flow_version", flow.Version,
		"conversation_id", session.ConversationID)
	m.publishLifecycle(ctx, events.SessionStartedEvent, session)

	return m.runSession(ctx, flow, session, cur, event)
}

// Resume delivers an inbound event to a waiting session. Message events are
// validated against the wait's expectations first; rejected input leaves the
// session waiting, bumps its error count, and returns a ValidationError.
func (m *Manager) Resume(ctx context.Context, sessionID string, event *models.InputEvent) (*SessionOutcome, error) {
	ctx, span := m.startSpan(ctx, "engine.resume",
		attribute.String(otelhelper.SessionIDKey, sessionID),
	)
	defer span.End()

	unlock, err := m.locker.Acquire(ctx, sessionLockKey(sessionID), m.lockTTL)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx, unlock)

	session, cur, err := m.persistence.Sessions().SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case session.Status.Terminal():
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionTerminal, session.ID, session.Status)
	case session.Status == models.SessionStatusPaused:
		return nil, fmt.Errorf("%w: session %s", ErrSessionPaused, session.ID)
	case session.Status != models.SessionStatusWaiting || cur.Wait == nil:
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotWaiting, session.ID, session.Status)
	}

	flow, err := m.loadFlow(ctx, session.FlowID, session.FlowVersion)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch event.Kind {
	case models.EventKindMessage:
		if cur.Wait.Kind != models.WaitKindInput {
			return nil, fmt.Errorf("%w: session %s waits on a timer", ErrSessionNotWaiting, session.ID)
		}

		if err := m.validateInput(cur.Wait, event); err != nil {
			session.ErrorCount++
			session.LastError = err.Error()
			session.Touch(now)

			if saveErr := m.persistence.Sessions().SaveSession(ctx, session, cur); saveErr != nil {
				return nil, fmt.Errorf("failed to record rejected input: %w", saveErr)
			}

			return nil, err
		}

		session.UserInteractions++
	case models.EventKindTimer:
		if cur.Wait.Kind != models.WaitKindTimer {
			return nil, fmt.Errorf("%w: session %s waits on input", ErrSessionNotWaiting, session.ID)
		}

		if cur.Wait.ScheduleID != "" && event.ScheduleID != cur.Wait.ScheduleID {
			return nil, fmt.Errorf("%w: schedule %s is not the awaited one", ErrSessionNotWaiting, event.ScheduleID)
		}

		if cur.Wait.Reason == waitReasonYield {
			// The node under the cursor never asked for this timer.
			event = nil
		}
	case models.EventKindManual:
	}

	tracker := cursor.NewTracker(flow)
	tracker.ClearWait(cur)
	session.WaitingContext = nil
	session.Status = models.SessionStatusActive
	session.ResumedAt = &now
	session.Touch(now)

	m.publishLifecycle(ctx, events.SessionResumedEvent, session)

	return m.runSession(ctx, flow, session, cur, event)
}

// Pause freezes a live session. A paused session executes nothing and
// rejects inbound events until unpaused; its schedules stay in place.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	unlock, err := m.locker.Acquire(ctx, sessionLockKey(sessionID), m.lockTTL)
	if err != nil {
		return err
	}
	defer m.release(ctx, unlock)

	session, cur, err := m.persistence.Sessions().SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrSessionTerminal, session.ID, session.Status)
	}

	if session.Status == models.SessionStatusPaused {
		return nil
	}

	now := time.Now().UTC()
	session.Status = models.SessionStatusPaused
	session.PausedAt = &now
	session.Touch(now)

	if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
		return fmt.Errorf("failed to pause session: %w", err)
	}

	m.publishLifecycle(ctx, events.SessionPausedEvent, session)

	return nil
}

// Unpause releases a paused session. It returns to waiting when its cursor
// still carries a wait, otherwise execution continues from the current node.
func (m *Manager) Unpause(ctx context.Context, sessionID string) (*SessionOutcome, error) {
	unlock, err := m.locker.Acquire(ctx, sessionLockKey(sessionID), m.lockTTL)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx, unlock)

	session, cur, err := m.persistence.Sessions().SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusPaused {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotPaused, session.ID, session.Status)
	}

	now := time.Now().UTC()
	session.ResumedAt = &now
	session.PausedAt = nil
	session.Touch(now)

	if cur.Wait != nil {
		session.Status = models.SessionStatusWaiting

		if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
			return nil, fmt.Errorf("failed to unpause session: %w", err)
		}

		m.publishLifecycle(ctx, events.SessionUnpausedEvent, session)

		return &SessionOutcome{Session: session, Cursor: cur}, nil
	}

	session.Status = models.SessionStatusActive

	if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
		return nil, fmt.Errorf("failed to unpause session: %w", err)
	}

	m.publishLifecycle(ctx, events.SessionUnpausedEvent, session)

	flow, err := m.loadFlow(ctx, session.FlowID, session.FlowVersion)
	if err != nil {
		return nil, err
	}

	return m.runSession(ctx, flow, session, cur, nil)
}

// Cancel abandons a session, recording the reason as its last error. It is
// idempotent: cancelling an already-terminal session is a no-op. When the
// session is mid-execution on another worker the cancellation is queued and
// applied at that worker's next persistence point.
func (m *Manager) Cancel(ctx context.Context, sessionID, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}

	acquireCtx, cancel := context.WithTimeout(ctx, cancelAcquireWait)
	defer cancel()

	unlock, err := m.locker.Acquire(acquireCtx, sessionLockKey(sessionID), m.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, context.DeadlineExceeded) {
			m.pendingCancels.Store(sessionID, reason)
			m.logger.InfoContext(ctx, "Session busy, cancellation queued", "session_id", sessionID)

			return nil
		}

		return err
	}
	defer m.release(ctx, unlock)

	session, cur, err := m.persistence.Sessions().SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status.Terminal() {
		return nil
	}

	if err := m.finishSession(ctx, session, cur, models.SessionStatusAbandoned, reason); err != nil {
		return err
	}

	m.publishLifecycle(ctx, events.SessionCancelledEvent, session)

	return nil
}

// Abandon marks an idle session abandoned. Used by the sweeper; a terminal
// session is left untouched.
func (m *Manager) Abandon(ctx context.Context, sessionID, reason string) error {
	unlock, err := m.locker.Acquire(ctx, sessionLockKey(sessionID), m.lockTTL)
	if err != nil {
		return err
	}
	defer m.release(ctx, unlock)

	session, cur, err := m.persistence.Sessions().SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status.Terminal() {
		return nil
	}

	if err := m.finishSession(ctx, session, cur, models.SessionStatusAbandoned, reason); err != nil {
		return err
	}

	m.publishLifecycle(ctx, events.SessionCancelledEvent, session)

	return nil
}

// HandleWaitTimeout processes an expired wait: the session re-enters the
// graph along the waiting node's timeout edge when one exists, otherwise it
// terminates with the timeout status.
func (m *Manager) HandleWaitTimeout(ctx context.Context, sessionID string) (*SessionOutcome, error) {
	unlock, err := m.locker.Acquire(ctx, sessionLockKey(sessionID), m.lockTTL)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx, unlock)

	session, cur, err := m.persistence.Sessions().SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusWaiting || cur.Wait == nil || cur.Wait.TimeoutAt == nil {
		return &SessionOutcome{Session: session, Cursor: cur}, nil
	}

	now := time.Now().UTC()
	if now.Before(*cur.Wait.TimeoutAt) {
		return &SessionOutcome{Session: session, Cursor: cur}, nil
	}

	flow, err := m.loadFlow(ctx, session.FlowID, session.FlowVersion)
	if err != nil {
		return nil, err
	}

	edge, ok := flow.EdgeByKind(cur.CurrentNodeID, models.EdgeKindTimeout)
	if !ok {
		if err := m.finishSession(ctx, session, cur, models.SessionStatusTimeout, "wait timed out"); err != nil {
			return nil, err
		}

		m.publishLifecycle(ctx, events.SessionTimeoutEvent, session)

		return &SessionOutcome{Session: session, Cursor: cur}, nil
	}

	tracker := cursor.NewTracker(flow)
	tracker.ClearWait(cur)

	if err := tracker.Advance(cur, edge.TargetID); err != nil {
		return nil, err
	}

	session.WaitingContext = nil
	session.Status = models.SessionStatusActive
	session.CurrentNodeID = cur.CurrentNodeID
	session.Touch(now)

	m.logger.InfoContext(ctx, "Wait timed out, following timeout edge",
		"session_id", session.ID, "node_id", edge.TargetID)

	return m.runSession(ctx, flow, session, cur, nil)
}

func (m *Manager) loadFlow(ctx context.Context, flowID string, version int) (*models.Flow, error) {
	if version > 0 {
		return m.persistence.Flows().FlowByVersion(ctx, flowID, version)
	}

	return m.persistence.Flows().PublishedFlow(ctx, flowID)
}

func (m *Manager) release(ctx context.Context, unlock lock.Unlock) {
	if err := unlock(ctx); err != nil {
		m.logger.WarnContext(ctx, "Failed to release session lock", "error", err)
	}
}

func sessionLockKey(sessionID string) string {
	return "session:" + sessionID
}
