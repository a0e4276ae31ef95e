package input

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

type setCall struct {
	scope models.VariableScope
	key   string
	value any
}

type fakeVars struct {
	sets []setCall
}

func (v *fakeVars) Resolve(_ context.Context, _ string) (any, bool, error) {
	return nil, false, nil
}

func (v *fakeVars) Get(_ context.Context, _ models.VariableScope, _ string) (any, bool, error) {
	return nil, false, nil
}

func (v *fakeVars) Set(_ context.Context, scope models.VariableScope, key string, value any, _ models.VariableOptions) error {
	v.sets = append(v.sets, setCall{scope: scope, key: key, value: value})

	return nil
}

func (v *fakeVars) Delete(_ context.Context, _ models.VariableScope, _ string) error {
	return nil
}

func (v *fakeVars) Snapshot(_ context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

func execContext(vars *fakeVars, input *models.InputEvent) protocol.ExecutionContext {
	return protocol.ExecutionContext{
		Session: &models.FlowSession{
			ID:             "s1",
			ConversationID: "conv-1",
			Status:         models.SessionStatusActive,
		},
		Node:      &models.FlowNode{ID: "ask", Type: models.NodeTypeInput},
		Input:     input,
		Variables: vars,
	}
}

func TestNewInputNode_RequiresVariable(t *testing.T) {
	_, err := NewInputNode("n1", map[string]any{})
	require.Error(t, err)
}

func TestNewInputNode_ParsesConfig(t *testing.T) {
	n, err := NewInputNode("n1", map[string]any{
		"variable":        "answer",
		"scope":           "user",
		"input_type":      "option",
		"options":         []any{"yes", "no", 7},
		"timeout_seconds": float64(90),
	})
	require.NoError(t, err)

	assert.Equal(t, "answer", n.config.Variable)
	assert.Equal(t, models.ScopeUser, n.config.Scope)
	assert.Equal(t, models.InputTypeOption, n.config.InputType)
	assert.Equal(t, []string{"yes", "no"}, n.config.Options)
	assert.Equal(t, 90, n.config.TimeoutSeconds)
}

func TestExecute_FirstEntryWaits(t *testing.T) {
	n, err := NewInputNode("n1", map[string]any{
		"variable":        "answer",
		"input_type":      "number",
		"timeout_seconds": float64(60),
	})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(&fakeVars{}, nil))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeWait, outcome.Kind)
	require.NotNil(t, outcome.Wait)
	assert.Equal(t, models.WaitKindInput, outcome.Wait.Kind)
	assert.Equal(t, models.InputTypeNumber, outcome.Wait.ExpectedInput)
	assert.Equal(t, time.Minute, outcome.Wait.Timeout)
}

func TestExecute_TimerEventStillWaits(t *testing.T) {
	n, err := NewInputNode("n1", map[string]any{"variable": "answer"})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(&fakeVars{}, models.TimerEvent("sch-1")))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeWait, outcome.Kind)
}

func TestExecute_MessageEventCapturesAnswer(t *testing.T) {
	n, err := NewInputNode("n1", map[string]any{"variable": "answer", "scope": "session"})
	require.NoError(t, err)

	vars := &fakeVars{}
	event := &models.InputEvent{Kind: models.EventKindMessage, ConversationID: "conv-1", Content: "blue"}

	outcome, err := n.Execute(context.Background(), execContext(vars, event))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeAdvance, outcome.Kind)
	assert.Equal(t, "blue", outcome.Output["value"])

	require.Len(t, vars.sets, 1)
	assert.Equal(t, models.ScopeSession, vars.sets[0].scope)
	assert.Equal(t, "answer", vars.sets[0].key)
	assert.Equal(t, "blue", vars.sets[0].value)
}
