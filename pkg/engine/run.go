package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/convoflow/convoflow/pkg/cursor"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/otelhelper"
	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/variables"
)

// runSession executes nodes from the cursor's position until the session
// waits, terminates, fails, or exhausts the step budget. The caller holds
// the session lock. Session-level failures (retries exhausted, branch
// resolution) are recorded on the session and in the step audit trail, and
// are not returned as errors; only infrastructure failures are.
func (m *Manager) runSession(
	ctx context.Context,
	flow *models.Flow,
	session *models.FlowSession,
	cur *models.SessionCursor,
	input *models.InputEvent,
) (*SessionOutcome, error) {
	tracker := cursor.NewTracker(flow)
	outcome := &SessionOutcome{Session: session, Cursor: cur}

	for {
		if reason, ok := m.consumePendingCancel(session.ID); ok {
			if err := m.finishSession(ctx, session, cur, models.SessionStatusAbandoned, reason); err != nil {
				return nil, err
			}

			m.publishLifecycle(ctx, events.SessionCancelledEvent, session)

			return outcome, nil
		}

		node, ok := flow.Node(cur.CurrentNodeID)
		if !ok {
			return outcome, m.failSessionAudited(ctx, session, cur, cur.CurrentNodeID, "",
				fmt.Errorf("node %s not present in flow %s version %d", cur.CurrentNodeID, flow.ID, flow.Version))
		}

		if outcome.Steps >= m.maxStepsPerRun {
			return m.yield(ctx, session, cur, tracker, node, outcome)
		}

		handler, err := m.registry.CreateHandler(ctx, node)
		if err != nil {
			return outcome, m.failSessionAudited(ctx, session, cur, node.ID, node.Type,
				fmt.Errorf("failed to create handler for node %s: %w", node.ID, err))
		}

		nodeOutcome, execErr := m.executeNode(ctx, flow, session, cur, node, handler, input)
		input = nil
		outcome.Steps++

		if execErr != nil {
			if edge, ok := flow.EdgeByKind(node.ID, models.EdgeKindError); ok {
				m.logger.WarnContext(ctx, "Node failed, following error edge",
					"session_id", session.ID, "node_id", node.ID, "error", execErr)

				if err := m.advance(ctx, session, cur, tracker, node, edge.TargetID); err != nil {
					return outcome, err
				}

				continue
			}

			return outcome, m.failSession(ctx, session, cur, execErr)
		}

		switch nodeOutcome.Kind {
		case protocol.OutcomeTerminate:
			if err := m.finishSession(ctx, session, cur, nodeOutcome.TerminalStatus, ""); err != nil {
				return nil, err
			}

			m.publishLifecycle(ctx, terminalEventType(nodeOutcome.TerminalStatus), session)

			return outcome, nil

		case protocol.OutcomeWait:
			return m.suspend(ctx, session, cur, tracker, node, nodeOutcome.Wait, outcome)

		case protocol.OutcomeAdvance, protocol.OutcomeAdvanceEdge:
			next, chosenLabel, err := m.resolveNext(flow, node, nodeOutcome)
			if err != nil {
				return outcome, m.failSessionAudited(ctx, session, cur, node.ID, node.Type, err)
			}

			if nodeOutcome.Kind == protocol.OutcomeAdvanceEdge {
				session.RecordBranch(node.ID, nodeOutcome.Condition, chosenLabel, time.Now().UTC())
			}

			if err := m.advance(ctx, session, cur, tracker, node, next); err != nil {
				return outcome, err
			}

		default:
			return outcome, m.failSessionAudited(ctx, session, cur, node.ID, node.Type,
				fmt.Errorf("node %s returned unknown outcome kind %q", node.ID, nodeOutcome.Kind))
		}
	}
}

// executeNode runs one node with the node's retry budget, appending one
// audit record per attempt.
func (m *Manager) executeNode(
	ctx context.Context,
	flow *models.Flow,
	session *models.FlowSession,
	cur *models.SessionCursor,
	node *models.FlowNode,
	handler protocol.NodeHandler,
	input *models.InputEvent,
) (protocol.Outcome, error) {
	ctx, span := m.startSpan(ctx, "engine.execute_node",
		attribute.String(otelhelper.SessionIDKey, session.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	view := m.variables.View(variables.SessionContext{
		SessionID: session.ID,
		FlowID:    session.FlowID,
		NodeID:    node.ID,
		ContactID: session.ContactID,
	})

	ec := protocol.ExecutionContext{
		Flow:      flow,
		Session:   session,
		Node:      node,
		Input:     input,
		Variables: view,
		Logger:    m.logger.With("session_id", session.ID, "node_id", node.ID),
	}

	var lastErr error

	for attempt := 0; attempt <= node.MaxRetries; attempt++ {
		step := &models.StepExecution{
			ID:         uuid.NewString(),
			SessionID:  session.ID,
			NodeID:     node.ID,
			NodeType:   node.Type,
			OrderIndex: session.NodeExecutions,
			StartedAt:  time.Now().UTC(),
			Status:     models.StepStatusRunning,
			Input:      inputSnapshot(input),
			RetryCount: attempt,
			MaxRetries: node.MaxRetries,
		}

		execCtx := ctx

		var cancel context.CancelFunc
		if node.TimeoutSeconds > 0 {
			execCtx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutSeconds)*time.Second)
		}

		nodeOutcome, err := handler.Execute(execCtx, ec)

		if cancel != nil {
			cancel()
		}

		now := time.Now().UTC()

		if err != nil {
			step.ErrorMessage = err.Error()
			step.Finish(models.StepStatusFailed, now)
			m.appendStep(ctx, step)
			m.publishNodeExecuted(ctx, session, node, step)

			lastErr = err

			m.logger.WarnContext(ctx, "Node execution attempt failed",
				"session_id", session.ID, "node_id", node.ID,
				"attempt", attempt+1, "max_attempts", node.MaxRetries+1, "error", err)

			continue
		}

		step.Output = nodeOutcome.Output
		step.Finish(stepStatusFor(nodeOutcome), now)
		m.appendStep(ctx, step)
		m.publishNodeExecuted(ctx, session, node, step)

		session.RecordVisit(node.ID, now)

		return nodeOutcome, nil
	}

	session.ErrorCount++

	otelhelper.SetError(span, lastErr)

	return protocol.Outcome{}, fmt.Errorf("node %s failed after %d attempts: %w", node.ID, node.MaxRetries+1, lastErr)
}

// resolveNext maps a node outcome to the target node id and the chosen edge
// label. A labeled advance with no matching edge falls back to the node's
// default edge; with neither, branch resolution fails the session.
func (m *Manager) resolveNext(flow *models.Flow, node *models.FlowNode, outcome protocol.Outcome) (string, string, error) {
	if outcome.Kind == protocol.OutcomeAdvance {
		if outcome.NextNodeID != "" {
			return outcome.NextNodeID, "", nil
		}

		if edge, ok := flow.FirstEdge(node.ID); ok {
			return edge.TargetID, edge.Label, nil
		}

		return "", "", fmt.Errorf("node %s: %w", node.ID, protocol.ErrBranchResolution)
	}

	if edge, ok := flow.EdgeByLabel(node.ID, outcome.EdgeLabel); ok {
		return edge.TargetID, edge.Label, nil
	}

	if edge, ok := flow.EdgeByKind(node.ID, models.EdgeKindDefault); ok {
		return edge.TargetID, string(models.EdgeKindDefault), nil
	}

	return "", "", fmt.Errorf("node %s has no edge labeled %q and no default edge: %w",
		node.ID, outcome.EdgeLabel, protocol.ErrBranchResolution)
}

func (m *Manager) advance(
	ctx context.Context,
	session *models.FlowSession,
	cur *models.SessionCursor,
	tracker *cursor.Tracker,
	node *models.FlowNode,
	nextNodeID string,
) error {
	if err := tracker.Advance(cur, nextNodeID); err != nil {
		return m.failSessionAudited(ctx, session, cur, node.ID, node.Type, err)
	}

	session.CurrentNodeID = cur.CurrentNodeID
	session.Touch(time.Now().UTC())

	if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
		return fmt.Errorf("failed to persist session advance: %w", err)
	}

	return nil
}

// suspend persists the wait requested by a node and parks the session.
func (m *Manager) suspend(
	ctx context.Context,
	session *models.FlowSession,
	cur *models.SessionCursor,
	tracker *cursor.Tracker,
	node *models.FlowNode,
	spec *protocol.WaitSpec,
	outcome *SessionOutcome,
) (*SessionOutcome, error) {
	waitCtx, err := m.waits.RequestWait(ctx, session, node, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to request wait for session %s: %w", session.ID, err)
	}

	tracker.SetWaiting(cur, waitCtx)
	session.WaitingContext = waitCtx
	session.Status = models.SessionStatusWaiting
	session.Touch(time.Now().UTC())

	if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
		return nil, fmt.Errorf("failed to persist waiting session: %w", err)
	}

	m.logger.InfoContext(ctx, "Session waiting",
		"session_id", session.ID, "node_id", cur.CurrentNodeID,
		"wait_kind", waitCtx.Kind, "reason", waitCtx.Reason)
	m.publishLifecycle(ctx, events.SessionWaitingEvent, session)

	return outcome, nil
}

// yield parks the session on an immediate timer so the scheduler requeues it,
// bounding how long one run can monopolize a worker.
func (m *Manager) yield(
	ctx context.Context,
	session *models.FlowSession,
	cur *models.SessionCursor,
	tracker *cursor.Tracker,
	node *models.FlowNode,
	outcome *SessionOutcome,
) (*SessionOutcome, error) {
	m.logger.InfoContext(ctx, "Step budget exhausted, yielding session",
		"session_id", session.ID, "steps", outcome.Steps)

	spec := &protocol.WaitSpec{
		Kind:   models.WaitKindTimer,
		Reason: waitReasonYield,
	}

	return m.suspend(ctx, session, cur, tracker, node, spec, outcome)
}

// failSession marks the session failed. The error is recorded, not returned;
// callers return a nil error for session-level failures.
func (m *Manager) failSession(ctx context.Context, session *models.FlowSession, cur *models.SessionCursor, cause error) error {
	m.logger.ErrorContext(ctx, "Session failed",
		"session_id", session.ID, "node_id", cur.CurrentNodeID, "error", cause)

	if err := m.finishSession(ctx, session, cur, models.SessionStatusFailed, cause.Error()); err != nil {
		return err
	}

	m.publishLifecycle(ctx, events.SessionFailedEvent, session)

	return nil
}

// failSessionAudited records an engine-level failure in the step audit trail
// before marking the session failed, so the last StepExecution carries the
// terminal error. Node attempt failures are already audited per attempt by
// executeNode.
func (m *Manager) failSessionAudited(
	ctx context.Context,
	session *models.FlowSession,
	cur *models.SessionCursor,
	nodeID string,
	nodeType models.NodeType,
	cause error,
) error {
	now := time.Now().UTC()
	step := &models.StepExecution{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		NodeID:       nodeID,
		NodeType:     nodeType,
		OrderIndex:   session.NodeExecutions,
		StartedAt:    now,
		ErrorMessage: cause.Error(),
	}
	step.Finish(models.StepStatusFailed, now)
	m.appendStep(ctx, step)

	return m.failSession(ctx, session, cur, cause)
}

// finishSession applies a terminal status, persists, and drops the session's
// outstanding schedules. Terminal statuses are one-way.
func (m *Manager) finishSession(
	ctx context.Context,
	session *models.FlowSession,
	cur *models.SessionCursor,
	status models.SessionStatus,
	lastError string,
) error {
	now := time.Now().UTC()
	session.Status = status
	session.CompletedAt = &now

	if lastError != "" {
		session.LastError = lastError
	}

	session.WaitingContext = nil
	cur.Wait = nil
	session.Touch(now)

	if err := m.persistence.Sessions().SaveSession(ctx, session, cur); err != nil {
		return fmt.Errorf("failed to persist terminal session: %w", err)
	}

	if err := m.persistence.Schedules().CancelSchedulesForSession(ctx, session.ID); err != nil {
		m.logger.WarnContext(ctx, "Failed to cancel schedules for finished session",
			"session_id", session.ID, "error", err)
	}

	m.logger.InfoContext(ctx, "Session finished", "session_id", session.ID, "status", status)

	return nil
}

func (m *Manager) consumePendingCancel(sessionID string) (string, bool) {
	reason, ok := m.pendingCancels.LoadAndDelete(sessionID)
	if !ok {
		return "", false
	}

	return reason.(string), true
}

func (m *Manager) appendStep(ctx context.Context, step *models.StepExecution) {
	if err := m.persistence.Steps().AppendStep(ctx, step); err != nil {
		m.logger.ErrorContext(ctx, "Failed to append step execution record",
			"session_id", step.SessionID, "node_id", step.NodeID, "error", err)
	}
}

func (m *Manager) publishLifecycle(ctx context.Context, eventType events.EventType, session *models.FlowSession) {
	if m.publisher == nil {
		return
	}

	event := events.SessionLifecycle{
		BaseEvent: events.BaseEvent{
			ID:             uuid.NewString(),
			Type:           eventType,
			Timestamp:      time.Now().UTC(),
			SessionID:      session.ID,
			FlowID:         session.FlowID,
			ConversationID: session.ConversationID,
			WorkerID:       m.workerID,
		},
		Status:        session.Status,
		CurrentNodeID: session.CurrentNodeID,
		LastError:     session.LastError,
	}

	if err := m.publisher.Publish(ctx, events.SessionTopic, session.ID, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish session lifecycle event",
			"session_id", session.ID, "event_type", eventType, "error", err)
	}
}

func (m *Manager) publishNodeExecuted(ctx context.Context, session *models.FlowSession, node *models.FlowNode, step *models.StepExecution) {
	if m.publisher == nil {
		return
	}

	event := events.NodeExecuted{
		BaseEvent: events.BaseEvent{
			ID:             uuid.NewString(),
			Type:           events.NodeExecutedEvent,
			Timestamp:      time.Now().UTC(),
			SessionID:      session.ID,
			FlowID:         session.FlowID,
			ConversationID: session.ConversationID,
			WorkerID:       m.workerID,
		},
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     step.Status,
		DurationMs: step.DurationMs,
		Error:      step.ErrorMessage,
	}

	if err := m.publisher.Publish(ctx, events.SessionTopic, session.ID, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish node executed event",
			"session_id", session.ID, "node_id", node.ID, "error", err)
	}
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}

	return otelhelper.StartSpan(ctx, m.tracer, name, attrs...)
}

func stepStatusFor(outcome protocol.Outcome) models.StepStatus {
	if outcome.Kind == protocol.OutcomeWait {
		return models.StepStatusWaiting
	}

	return models.StepStatusCompleted
}

func terminalEventType(status models.SessionStatus) events.EventType {
	switch status {
	case models.SessionStatusFailed:
		return events.SessionFailedEvent
	case models.SessionStatusTimeout:
		return events.SessionTimeoutEvent
	case models.SessionStatusAbandoned:
		return events.SessionCancelledEvent
	default:
		return events.SessionCompletedEvent
	}
}

func inputSnapshot(input *models.InputEvent) map[string]any {
	if input == nil {
		return nil
	}

	snapshot := map[string]any{
		"kind": string(input.Kind),
	}

	if input.Content != "" {
		snapshot["content"] = input.Content
	}

	if input.ScheduleID != "" {
		snapshot["schedule_id"] = input.ScheduleID
	}

	return snapshot
}
