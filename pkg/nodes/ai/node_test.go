package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

type fakeCompleter struct {
	prompts []string
	chunks  [][]string
	reply   string
	err     error
}

func (c *fakeCompleter) Complete(_ context.Context, prompt string, context []string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	c.chunks = append(c.chunks, context)

	return c.reply, c.err
}

type fakeRetriever struct {
	chunks []string
	err    error
}

func (r *fakeRetriever) Retrieve(_ context.Context, _, _ string) ([]string, error) {
	return r.chunks, r.err
}

type fakeSender struct {
	sent []map[string]any
	err  error
}

func (s *fakeSender) Send(_ context.Context, _, _ string, message map[string]any) (*protocol.DeliveryResult, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.sent = append(s.sent, message)

	return &protocol.DeliveryResult{MessageID: "m-1", Delivered: true}, nil
}

type setCall struct {
	scope models.VariableScope
	key   string
	value any
}

type fakeVars struct {
	values map[string]any
	sets   []setCall
}

func (v *fakeVars) Resolve(_ context.Context, key string) (any, bool, error) {
	val, ok := v.values[key]

	return val, ok, nil
}

func (v *fakeVars) Get(_ context.Context, _ models.VariableScope, key string) (any, bool, error) {
	val, ok := v.values[key]

	return val, ok, nil
}

func (v *fakeVars) Set(_ context.Context, scope models.VariableScope, key string, value any, _ models.VariableOptions) error {
	v.sets = append(v.sets, setCall{scope: scope, key: key, value: value})

	return nil
}

func (v *fakeVars) Delete(_ context.Context, _ models.VariableScope, _ string) error {
	return nil
}

func (v *fakeVars) Snapshot(_ context.Context) (map[string]any, error) {
	return v.values, nil
}

func execContext(vars *fakeVars) protocol.ExecutionContext {
	return protocol.ExecutionContext{
		Session: &models.FlowSession{
			ID:             "s1",
			ConversationID: "conv-1",
			ChannelType:    "whatsapp",
			Status:         models.SessionStatusActive,
		},
		Node:      &models.FlowNode{ID: "assist", Type: models.NodeTypeAIAssistant},
		Variables: vars,
	}
}

func TestNewAINode_RequiresPrompt(t *testing.T) {
	_, err := NewAINode("n1", map[string]any{}, &fakeCompleter{}, nil, &fakeSender{})
	require.Error(t, err)
}

func TestNewAINode_RAGRequiresRetriever(t *testing.T) {
	_, err := NewAINode("n1", map[string]any{
		"prompt":  "help the user",
		"use_rag": true,
	}, &fakeCompleter{}, nil, &fakeSender{})
	require.Error(t, err)
}

func TestNewAINode_ReplyRequiresSender(t *testing.T) {
	_, err := NewAINode("n1", map[string]any{"prompt": "help"}, &fakeCompleter{}, nil, nil)
	require.Error(t, err)

	// reply disabled works without a sender
	_, err = NewAINode("n1", map[string]any{"prompt": "help", "reply": false}, &fakeCompleter{}, nil, nil)
	require.NoError(t, err)
}

func TestExecute_RendersPromptAndReplies(t *testing.T) {
	completer := &fakeCompleter{reply: "Happy to help with your order."}
	sender := &fakeSender{}

	n, err := NewAINode("n1", map[string]any{
		"prompt": "Answer about order {{.variables.order_id}}",
	}, completer, nil, sender)
	require.NoError(t, err)

	vars := &fakeVars{values: map[string]any{"order_id": "o-42"}}

	outcome, err := n.Execute(context.Background(), execContext(vars))
	require.NoError(t, err)

	assert.Equal(t, protocol.OutcomeAdvance, outcome.Kind)
	assert.Equal(t, "Happy to help with your order.", outcome.Output["completion"])
	assert.Equal(t, "m-1", outcome.Output["message_id"])

	require.Len(t, completer.prompts, 1)
	assert.Equal(t, "Answer about order o-42", completer.prompts[0])

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Happy to help with your order.", sender.sent[0]["text"])
}

func TestExecute_RAGPassesRetrievedChunks(t *testing.T) {
	completer := &fakeCompleter{reply: "answer"}
	retriever := &fakeRetriever{chunks: []string{"faq entry one", "faq entry two"}}

	n, err := NewAINode("n1", map[string]any{
		"prompt":  "help",
		"use_rag": true,
		"reply":   false,
	}, completer, retriever, nil)
	require.NoError(t, err)

	outcome, err := n.Execute(context.Background(), execContext(&fakeVars{}))
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Output["retrieved_count"])
	require.Len(t, completer.chunks, 1)
	assert.Equal(t, []string{"faq entry one", "faq entry two"}, completer.chunks[0])
}

func TestExecute_CapturesCompletionVariable(t *testing.T) {
	completer := &fakeCompleter{reply: "summary text"}

	n, err := NewAINode("n1", map[string]any{
		"prompt":   "summarize",
		"variable": "summary",
		"scope":    "flow",
		"reply":    false,
	}, completer, nil, nil)
	require.NoError(t, err)

	vars := &fakeVars{}

	_, err = n.Execute(context.Background(), execContext(vars))
	require.NoError(t, err)

	require.Len(t, vars.sets, 1)
	assert.Equal(t, models.ScopeFlow, vars.sets[0].scope)
	assert.Equal(t, "summary", vars.sets[0].key)
	assert.Equal(t, "summary text", vars.sets[0].value)
}

func TestExecute_CompleterFailureIsIntegrationError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model unavailable")}

	n, err := NewAINode("n1", map[string]any{"prompt": "help", "reply": false}, completer, nil, nil)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(&fakeVars{}))
	require.ErrorIs(t, err, protocol.ErrIntegration)
}

func TestExecute_RetrieverFailureIsIntegrationError(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("index offline")}

	n, err := NewAINode("n1", map[string]any{
		"prompt":  "help",
		"use_rag": true,
		"reply":   false,
	}, &fakeCompleter{}, retriever, nil)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), execContext(&fakeVars{}))
	require.ErrorIs(t, err, protocol.ErrIntegration)
}
