package registry

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

type nullSender struct{}

func (nullSender) Send(_ context.Context, _, _ string, _ map[string]any) (*protocol.DeliveryResult, error) {
	return &protocol.DeliveryResult{MessageID: "m-1", Delivered: true}, nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	r := NewRegistry(logger)
	RegisterDefaultNodes(r, NodeDependencies{Sender: nullSender{}})

	return r
}

func TestRegisterDefaultNodes(t *testing.T) {
	r := testRegistry(t)

	types := r.NodeTypes()
	for _, expected := range []string{
		"message", "media", "template", "interactive",
		"condition", "input", "delay", "followup",
		"http_request", "webhook", "shopify", "woocommerce", "sheets", "n8n", "typebot", "flowise",
		"ai_assistant", "end", "bot_disable", "bot_reset",
	} {
		assert.Contains(t, types, expected)
	}
}

func TestCreateHandler(t *testing.T) {
	r := testRegistry(t)

	handler, err := r.CreateHandler(context.Background(), &models.FlowNode{
		ID:     "say",
		Type:   models.NodeTypeMessage,
		Config: map[string]any{"content": "hi"},
	})
	require.NoError(t, err)
	assert.NotNil(t, handler)
}

func TestCreateHandler_UnknownType(t *testing.T) {
	r := testRegistry(t)

	_, err := r.CreateHandler(context.Background(), &models.FlowNode{ID: "x", Type: "hologram"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestCreateHandler_SchemaRejectsBadConfig(t *testing.T) {
	r := testRegistry(t)

	// message requires a string content
	_, err := r.CreateHandler(context.Background(), &models.FlowNode{
		ID:     "say",
		Type:   models.NodeTypeMessage,
		Config: map[string]any{"content": float64(7)},
	})
	require.Error(t, err)
}

func TestValidateNode_DoesNotNeedCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	r := NewRegistry(logger)
	RegisterDefaultNodes(r, NodeDependencies{})

	// The AI factory has no completer wired, so handler creation would
	// fail, but schema validation alone passes.
	err := r.ValidateNode(&models.FlowNode{
		ID:     "assist",
		Type:   models.NodeTypeAIAssistant,
		Config: map[string]any{"prompt": "help the user"},
	})
	require.NoError(t, err)
}

func TestValidateNode_UnknownType(t *testing.T) {
	r := testRegistry(t)

	err := r.ValidateNode(&models.FlowNode{ID: "x", Type: "hologram"})
	require.Error(t, err)
}

func TestFactory(t *testing.T) {
	r := testRegistry(t)

	factory, ok := r.Factory("end")
	require.True(t, ok)
	assert.Equal(t, "end", factory.ID())

	_, ok = r.Factory("hologram")
	assert.False(t, ok)
}
