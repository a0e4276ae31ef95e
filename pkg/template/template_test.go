package template

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

func execContext(values map[string]any, input *models.InputEvent) *protocol.ExecutionContext {
	return &protocol.ExecutionContext{
		Session: &models.FlowSession{
			ID:             "s1",
			FlowID:         "flow-1",
			ConversationID: "conv-1",
			ContactID:      "contact-1",
			Status:         models.SessionStatusActive,
			CurrentNodeID:  "n1",
			SessionData:    map[string]any{"origin": "campaign"},
		},
		Node:      &models.FlowNode{ID: "n1", Type: models.NodeTypeMessage},
		Input:     input,
		Variables: &fakeVars{values: values},
	}
}

func TestRender_PlainString(t *testing.T) {
	result, err := Render("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestRender_CoercesNumbers(t *testing.T) {
	result, err := Render("42.5", nil)
	require.NoError(t, err)
	assert.Equal(t, 42.5, result)
}

func TestRender_CoercesBooleans(t *testing.T) {
	result, err := Render("true", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRender_DecodesJSONOutput(t *testing.T) {
	result, err := Render(`{"a": 1, "b": [2, 3]}`, nil)
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])
}

func TestRender_Funcs(t *testing.T) {
	result, err := Render(`{{upper "go"}}-{{lower "GO"}}-{{trim "  x  "}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "GO-go-x", result)
}

func TestRender_SyntaxErrorFails(t *testing.T) {
	_, err := Render("{{.broken", nil)
	require.Error(t, err)
}

func TestRenderWithContext_Variables(t *testing.T) {
	ec := execContext(map[string]any{"name": "Ana"}, nil)

	result, err := RenderWithContext(context.Background(), "Hi {{.variables.name}}", ec)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana", result)

	// .vars is an alias of .variables
	result, err = RenderWithContext(context.Background(), "Hi {{.vars.name}}", ec)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana", result)
}

func TestRenderWithContext_SessionFields(t *testing.T) {
	ec := execContext(nil, nil)

	result, err := RenderWithContext(context.Background(), "{{.session.conversation_id}}/{{.session.contact_id}}", ec)
	require.NoError(t, err)
	assert.Equal(t, "conv-1/contact-1", result)
}

func TestRenderWithContext_SessionData(t *testing.T) {
	ec := execContext(nil, nil)

	result, err := RenderWithContext(context.Background(), "{{.session_data.origin}}", ec)
	require.NoError(t, err)
	assert.Equal(t, "campaign", result)
}

func TestRenderWithContext_InputEvent(t *testing.T) {
	event := &models.InputEvent{
		Kind:        models.EventKindMessage,
		Content:     "show my order",
		ChannelType: "whatsapp",
	}
	ec := execContext(nil, event)

	result, err := RenderWithContext(context.Background(), "{{.input.content}}", ec)
	require.NoError(t, err)
	assert.Equal(t, "show my order", result)
}

func TestRenderString_StringifiesTypedResults(t *testing.T) {
	ec := execContext(map[string]any{"count": "3"}, nil)

	result, err := RenderString(context.Background(), "{{.variables.count}}", ec)
	require.NoError(t, err)
	assert.Equal(t, "3", result)

	result, err = RenderString(context.Background(), "true", ec)
	require.NoError(t, err)
	assert.Equal(t, "true", result)
}
