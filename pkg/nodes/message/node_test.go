package message

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

type sentMessage struct {
	conversationID string
	channelType    string
	payload        map[string]any
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, conversationID, channelType string, message map[string]any) (*protocol.DeliveryResult, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.sent = append(s.sent, sentMessage{conversationID: conversationID, channelType: channelType, payload: message})

	return &protocol.DeliveryResult{MessageID: "m-1", Delivered: true}, nil
}

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
			ChannelType:    "whatsapp",
			Status:         models.SessionStatusActive,
		},
		Node:      &models.FlowNode{ID: "say", Type: models.NodeTypeMessage},
		Variables: &fakeVars{values: values},
	}
}

func TestNewMessageNode_RequiresSender(t *testing.T) {
	_, err := NewMessageNode("n1", "message", map[string]any{"content": "hi"}, nil)
	require.Error(t, err)
}

func TestNewMessageNode_RequiredFieldsPerKind(t *testing.T) {
	sender := &fakeSender{}

	_, err := NewMessageNode("n1", "message", map[string]any{}, sender)
	require.Error(t, err)

	_, err = NewMessageNode("n1", "media", map[string]any{}, sender)
	require.Error(t, err)

	_, err = NewMessageNode("n1", "template", map[string]any{}, sender)
	require.Error(t, err)

	_, err = NewMessageNode("n1", "interactive", map[string]any{}, sender)
	require.NoError(t, err)
}

func TestExecute_RendersContentAndSendsOnSessionChannel(t *testing.T) {
	sender := &fakeSender{}

	n, err := NewMessageNode("n1", "message", map[string]any{
		"content": "Hi {{.variables.name}}!",
	}, sender)
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(map[string]any{"name": "Ana"}))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeAdvance, outcome.Kind)
	assert.Equal(t, "m-1", outcome.Output["message_id"])
	assert.Equal(t, true, outcome.Output["delivered"])

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "conv-1", sender.sent[0].conversationID)
	assert.Equal(t, "whatsapp", sender.sent[0].channelType)
	assert.Equal(t, "Hi Ana!", sender.sent[0].payload["content"])
	assert.Equal(t, "message", sender.sent[0].payload["kind"])
}

func TestExecute_ExplicitChannelOverridesSession(t *testing.T) {
	sender := &fakeSender{}

	n, err := NewMessageNode("n1", "message", map[string]any{
		"content":      "hi",
		"channel_type": "telegram",
	}, sender)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(nil))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "telegram", sender.sent[0].channelType)
}

func TestExecute_MediaPayload(t *testing.T) {
	sender := &fakeSender{}

	n, err := NewMessageNode("n1", "media", map[string]any{
		"media_url": "https://cdn.example.com/{{.variables.file}}",
		"caption":   "receipt",
	}, sender)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(map[string]any{"file": "r1.png"}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "https://cdn.example.com/r1.png", sender.sent[0].payload["media_url"])
	assert.Equal(t, "receipt", sender.sent[0].payload["caption"])
	assert.Equal(t, "media", sender.sent[0].payload["kind"])
}

func TestExecute_InteractivePayloadCarriesButtonsAndExtra(t *testing.T) {
	sender := &fakeSender{}

	n, err := NewMessageNode("n1", "interactive", map[string]any{
		"content": "Pick one",
		"buttons": []any{map[string]any{"id": "y", "title": "Yes"}},
		"extra":   map[string]any{"header": "Survey"},
	}, sender)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(nil))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Len(t, sender.sent[0].payload["buttons"], 1)
	assert.Equal(t, "Survey", sender.sent[0].payload["header"])
}

func TestExecute_SendFailureIsIntegrationError(t *testing.T) {
	sender := &fakeSender{err: errors.New("adapter down")}

	n, err := NewMessageNode("n1", "message", map[string]any{"content": "hi"}, sender)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(nil))
	require.ErrorIs(t, err, protocol.ErrIntegration)
}
