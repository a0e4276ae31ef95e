// Package memory provides an in-memory persistence implementation for tests
// and single-process deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with process-local maps.
// Stored values are deep-copied through JSON so callers never share memory
// with the store, matching the isolation the database implementations give.
type Persistence struct {
	mu sync.RWMutex

	flows     map[string]*models.Flow // keyed by id@version
	published map[string]int          // flow id -> published version
	sessions  map[string]*models.FlowSession
	cursors   map[string]*models.SessionCursor
	variables map[string]*models.SessionVariable // keyed by scope|key|qualifiers
	steps     map[string][]*models.StepExecution
	schedules map[string]*models.FollowUpSchedule
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		flows:     make(map[string]*models.Flow),
		published: make(map[string]int),
		sessions:  make(map[string]*models.FlowSession),
		cursors:   make(map[string]*models.SessionCursor),
		variables: make(map[string]*models.SessionVariable),
		steps:     make(map[string][]*models.StepExecution),
		schedules: make(map[string]*models.FollowUpSchedule),
	}
}

func (p *Persistence) Flows() persistence.FlowStore              { return (*flowStore)(p) }
func (p *Persistence) Sessions() persistence.SessionStore        { return (*sessionStore)(p) }
func (p *Persistence) Variables() persistence.VariableRepository { return (*variableStore)(p) }
func (p *Persistence) Steps() persistence.StepStore              { return (*stepStore)(p) }
func (p *Persistence) Schedules() persistence.ScheduleStore      { return (*scheduleStore)(p) }

func (p *Persistence) HealthCheck(ctx context.Context) error { return nil }

func (p *Persistence) Close(ctx context.Context) error { return nil }

func deepCopy[T any](in *T) *T {
	if in == nil {
		return nil
	}

	data, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("memory persistence: marshal: %v", err))
	}

	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memory persistence: unmarshal: %v", err))
	}

	return out
}

func flowKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

type flowStore Persistence

func (s *flowStore) FlowByVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[flowKey(id, version)]
	if !ok {
		return nil, fmt.Errorf("flow %s version %d: %w", id, version, persistence.ErrFlowVersionNotFound)
	}

	return deepCopy(flow), nil
}

func (s *flowStore) PublishedFlow(ctx context.Context, id string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.published[id]
	if !ok {
		return nil, fmt.Errorf("flow %s: %w", id, persistence.ErrFlowNotFound)
	}

	return deepCopy(s.flows[flowKey(id, version)]), nil
}

func (s *flowStore) SaveFlow(ctx context.Context, flow *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[flowKey(flow.ID, flow.Version)] = deepCopy(flow)

	if flow.Status == models.FlowStatusPublished {
		s.published[flow.ID] = flow.Version
	}

	return nil
}

type sessionStore Persistence

func (s *sessionStore) SaveSession(ctx context.Context, session *models.FlowSession, cursor *models.SessionCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Status.Live() {
		for _, existing := range s.sessions {
			if existing.ID != session.ID &&
				existing.FlowID == session.FlowID &&
				existing.ConversationID == session.ConversationID &&
				existing.Status.Live() {
				return persistence.NewSessionError("SaveSession", session.ID, persistence.ErrDuplicateLiveSession)
			}
		}
	}

	s.sessions[session.ID] = deepCopy(session)

	if cursor != nil {
		s.cursors[session.ID] = deepCopy(cursor)
	}

	return nil
}

func (s *sessionStore) SessionByID(ctx context.Context, id string) (*models.FlowSession, *models.SessionCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, nil, persistence.NewSessionError("SessionByID", id, persistence.ErrSessionNotFound)
	}

	return deepCopy(session), deepCopy(s.cursors[id]), nil
}

func (s *sessionStore) LiveSession(ctx context.Context, flowID, conversationID string) (*models.FlowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.FlowID == flowID && session.ConversationID == conversationID && session.Status.Live() {
			return deepCopy(session), nil
		}
	}

	return nil, persistence.ErrSessionNotFound
}

func (s *sessionStore) WaitingSessionForConversation(ctx context.Context, conversationID string) (*models.FlowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.ConversationID == conversationID && session.Status == models.SessionStatusWaiting {
			return deepCopy(session), nil
		}
	}

	return nil, persistence.ErrSessionNotFound
}

func (s *sessionStore) ExpiredWaitingSessions(ctx context.Context, now time.Time, limit int) ([]*models.FlowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FlowSession

	for id, session := range s.sessions {
		if session.Status != models.SessionStatusWaiting {
			continue
		}

		cursor := s.cursors[id]
		if cursor == nil || cursor.Wait == nil || cursor.Wait.TimeoutAt == nil {
			continue
		}

		if now.After(*cursor.Wait.TimeoutAt) {
			out = append(out, deepCopy(session))
		}
	}

	sortSessionsByActivity(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *sessionStore) IdleSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FlowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FlowSession

	for _, session := range s.sessions {
		if session.Status.Terminal() {
			continue
		}

		if session.LastActivityAt.Before(cutoff) {
			out = append(out, deepCopy(session))
		}
	}

	sortSessionsByActivity(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func sortSessionsByActivity(sessions []*models.FlowSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.Before(sessions[j].LastActivityAt)
	})
}

func variableKey(scope models.VariableScope, key string, q persistence.VariableQualifiers) string {
	switch scope {
	case models.ScopeSession:
		return fmt.Sprintf("session|%s|%s", q.SessionID, key)
	case models.ScopeNode:
		return fmt.Sprintf("node|%s|%s|%s", q.SessionID, q.NodeID, key)
	case models.ScopeFlow:
		return fmt.Sprintf("flow|%s|%s", q.FlowID, key)
	case models.ScopeUser:
		return fmt.Sprintf("user|%s|%s", q.ContactID, key)
	default:
		return fmt.Sprintf("global|%s", key)
	}
}

type variableStore Persistence

func (s *variableStore) GetVariable(ctx context.Context, scope models.VariableScope, key string, q persistence.VariableQualifiers) (*models.SessionVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variable, ok := s.variables[variableKey(scope, key, q)]
	if !ok {
		return nil, persistence.ErrVariableNotFound
	}

	return deepCopy(variable), nil
}

func (s *variableStore) SetVariable(ctx context.Context, variable *models.SessionVariable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := persistence.VariableQualifiers{
		SessionID: variable.SessionID,
		FlowID:    variable.FlowID,
		NodeID:    variable.NodeID,
		ContactID: variable.ContactID,
	}

	s.variables[variableKey(variable.Scope, variable.Key, q)] = deepCopy(variable)

	return nil
}

func (s *variableStore) DeleteVariable(ctx context.Context, scope models.VariableScope, key string, q persistence.VariableQualifiers) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.variables, variableKey(scope, key, q))

	return nil
}

func (s *variableStore) VariablesInScope(ctx context.Context, scope models.VariableScope, q persistence.VariableQualifiers) ([]*models.SessionVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SessionVariable

	for _, variable := range s.variables {
		if variable.Scope != scope {
			continue
		}

		if variableKey(scope, variable.Key, persistence.VariableQualifiers{
			SessionID: variable.SessionID,
			FlowID:    variable.FlowID,
			NodeID:    variable.NodeID,
			ContactID: variable.ContactID,
		}) == variableKey(scope, variable.Key, q) {
			out = append(out, deepCopy(variable))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

type stepStore Persistence

func (s *stepStore) AppendStep(ctx context.Context, step *models.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[step.SessionID] = append(s.steps[step.SessionID], deepCopy(step))

	return nil
}

func (s *stepStore) StepsBySession(ctx context.Context, sessionID string) ([]*models.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := s.steps[sessionID]
	out := make([]*models.StepExecution, 0, len(steps))

	for _, step := range steps {
		out = append(out, deepCopy(step))
	}

	return out, nil
}

type scheduleStore Persistence

func (s *scheduleStore) SaveSchedule(ctx context.Context, schedule *models.FollowUpSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[schedule.ID] = deepCopy(schedule)

	return nil
}

func (s *scheduleStore) ScheduleByID(ctx context.Context, id string) (*models.FollowUpSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, persistence.ErrScheduleNotFound)
	}

	return deepCopy(schedule), nil
}

func (s *scheduleStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FollowUpSchedule

	for _, schedule := range s.schedules {
		if schedule.Due(now) {
			out = append(out, deepCopy(schedule))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *scheduleStore) CancelSchedulesForSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	for _, schedule := range s.schedules {
		if schedule.SessionID == sessionID && schedule.Status == models.ScheduleStatusScheduled {
			schedule.Status = models.ScheduleStatusCancelled
			schedule.UpdatedAt = now
		}
	}

	return nil
}
