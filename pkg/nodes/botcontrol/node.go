// Package botcontrol provides the bot_disable and bot_reset nodes, which
// flip the conversation-level automation flags through the external bot
// controller and then advance.
package botcontrol

import (
	"context"
	"errors"
	"fmt"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

const (
	KindDisable = "bot_disable"
	KindReset   = "bot_reset"
)

// BotControlNode applies one bot-control operation to the conversation.
type BotControlNode struct {
	id         string
	kind       string
	controller protocol.BotController
}

// NewBotControlNode creates a bot-control node of the given kind.
func NewBotControlNode(id, kind string, controller protocol.BotController) (*BotControlNode, error) {
	if controller == nil {
		return nil, errors.New("bot control node requires a bot controller")
	}

	if kind != KindDisable && kind != KindReset {
		return nil, fmt.Errorf("unknown bot control kind %q", kind)
	}

	return &BotControlNode{id: id, kind: kind, controller: controller}, nil
}

func (n *BotControlNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	var err error

	switch n.kind {
	case KindDisable:
		err = n.controller.SetBotEnabled(ctx, ec.Session.ConversationID, false)
	case KindReset:
		err = n.controller.ResetBot(ctx, ec.Session.ConversationID)
	}

	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("%w: bot control %s: %w", protocol.ErrIntegration, n.kind, err)
	}

	return protocol.Advance("").WithOutput(map[string]any{
		"operation": n.kind,
	}), nil
}

// Factory creates bot-control nodes. One instance is registered per kind.
type Factory struct {
	kind       string
	name       string
	controller protocol.BotController
}

func NewFactory(kind, name string, controller protocol.BotController) *Factory {
	return &Factory{kind: kind, name: name, controller: controller}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewBotControlNode(node.ID, f.kind, f.controller)
}

func (f *Factory) ID() string {
	return f.kind
}

func (f *Factory) Name() string {
	return f.name
}

func (f *Factory) Description() string {
	return "Adjusts conversation-level bot automation flags"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
