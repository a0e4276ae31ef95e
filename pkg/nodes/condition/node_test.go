package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

type fakeVars struct {
	values map[string]any
}

func (v *fakeVars) Resolve(_ context.Context, key string) (any, bool, error) {
	val, ok := v.values[key]

	return val, ok, nil
}

func (v *fakeVars) Get(_ context.Context, _ models.VariableScope, key string) (any, bool, error) {
	val, ok := v.values[key]

	return val, ok, nil
}

func (v *fakeVars) Set(_ context.Context, _ models.VariableScope, _ string, _ any, _ models.VariableOptions) error {
	return nil
}

func (v *fakeVars) Delete(_ context.Context, _ models.VariableScope, _ string) error {
	return nil
}

func (v *fakeVars) Snapshot(_ context.Context) (map[string]any, error) {
	return v.values, nil
}

func execContext(values map[string]any) protocol.ExecutionContext {
	return protocol.ExecutionContext{
		Session: &models.FlowSession{
			ID:             "s1",
			ConversationID: "conv-1",
			Status:         models.SessionStatusActive,
		},
		Node:      &models.FlowNode{ID: "branch", Type: models.NodeTypeCondition},
		Variables: &fakeVars{values: values},
	}
}

func TestNewConditionNode_RequiresExpression(t *testing.T) {
	_, err := NewConditionNode("n1", map[string]any{})
	require.Error(t, err)

	_, err = NewConditionNode("n1", map[string]any{"expression": ""})
	require.Error(t, err)
}

func TestExecute_StringResultBecomesLabel(t *testing.T) {
	n, err := NewConditionNode("n1", map[string]any{"expression": "{{.variables.color}}"})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(map[string]any{"color": "blue"}))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeAdvanceEdge, outcome.Kind)
	assert.Equal(t, "blue", outcome.EdgeLabel)
	assert.Equal(t, "{{.variables.color}}", outcome.Condition)
	assert.Equal(t, "blue", outcome.Output["label"])
}

func TestExecute_BooleanResultBecomesTrueFalseLabel(t *testing.T) {
	n, err := NewConditionNode("n1", map[string]any{
		"expression": `{{eq .variables.plan "pro"}}`,
	})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(map[string]any{"plan": "pro"}))
	require.NoError(t, err)
	assert.Equal(t, "true", outcome.EdgeLabel)

	outcome, err = n.Execute(context.Background(), execContext(map[string]any{"plan": "free"}))
	require.NoError(t, err)
	assert.Equal(t, "false", outcome.EdgeLabel)
}

func TestExecute_NumericResultBecomesLiteralLabel(t *testing.T) {
	n, err := NewConditionNode("n1", map[string]any{"expression": "{{.variables.score}}"})
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(map[string]any{"score": "42"}))
	require.NoError(t, err)

	assert.Equal(t, "42", outcome.EdgeLabel)
}

func TestExecute_BadTemplateFails(t *testing.T) {
	n, err := NewConditionNode("n1", map[string]any{"expression": "{{.variables.color"})
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(nil))
	require.Error(t, err)
}
