package message

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// Factory creates MessageNode instances. One factory instance is registered
// per message-family node type (message, media, template, interactive).
type Factory struct {
	kind   string
	name   string
	sender protocol.ChannelSender
}

// NewFactory creates a factory for the given message-family kind.
func NewFactory(kind, name string, sender protocol.ChannelSender) *Factory {
	return &Factory{kind: kind, name: name, sender: sender}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewMessageNode(node.ID, f.kind, node.Config, f.sender)
}

func (f *Factory) ID() string {
	return f.kind
}

func (f *Factory) Name() string {
	return f.name
}

func (f *Factory) Description() string {
	return "Sends a " + f.name + " on the session's conversation and advances."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Message body. Supports templating against session variables and the inbound event.",
			},
			"media_url": map[string]any{
				"type":        "string",
				"description": "URL of the media attachment for media messages.",
			},
			"caption": map[string]any{
				"type": "string",
			},
			"template_id": map[string]any{
				"type":        "string",
				"description": "Channel template identifier for template messages.",
			},
			"buttons": map[string]any{
				"type":        "array",
				"description": "Interactive button definitions, passed through to the channel adapter.",
			},
			"channel_type": map[string]any{
				"type":        "string",
				"description": "Overrides the channel the message is sent on. Defaults to the triggering event's channel.",
			},
			"extra": map[string]any{
				"type": "object",
			},
		},
	}
}
