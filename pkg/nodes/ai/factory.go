package ai

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// Factory creates AI assistant nodes bound to the configured completion
// backend, retriever, and channel sender.
type Factory struct {
	completer protocol.Completer
	retriever protocol.Retriever
	sender    protocol.ChannelSender
}

func NewFactory(completer protocol.Completer, retriever protocol.Retriever, sender protocol.ChannelSender) *Factory {
	return &Factory{completer: completer, retriever: retriever, sender: sender}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewAINode(node.ID, node.Config, f.completer, f.retriever, f.sender)
}

func (f *Factory) ID() string {
	return "ai_assistant"
}

func (f *Factory) Name() string {
	return "AI Assistant"
}

func (f *Factory) Description() string {
	return "Generates an AI completion for the conversation, optionally grounded on retrieved knowledge"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"prompt"},
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Prompt template rendered against the session before completion",
			},
			"use_rag": map[string]any{
				"type":        "boolean",
				"description": "Augment the prompt with retrieved knowledge-base chunks",
			},
			"variable": map[string]any{
				"type":        "string",
				"description": "Variable name to store the completion under",
			},
			"scope": map[string]any{
				"type":        "string",
				"enum":        []string{"global", "flow", "node", "user", "session"},
				"description": "Scope for the captured variable, defaults to session",
			},
			"reply": map[string]any{
				"type":        "boolean",
				"description": "Send the completion on the conversation channel, defaults to true",
			},
			"channel_type": map[string]any{
				"type":        "string",
				"description": "Channel override for the reply",
			},
		},
	}
}
