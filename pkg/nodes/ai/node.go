// Package ai provides the ai_assistant node. It renders a prompt against
// the session, optionally augments it with retrieved knowledge-base chunks,
// asks the completion backend, and either sends the reply on the channel or
// captures it into a variable.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/template"
)

// AINode produces an AI completion for the conversation.
type AINode struct {
	id        string
	config    Config
	completer protocol.Completer
	retriever protocol.Retriever
	sender    protocol.ChannelSender
}

// Config defines the configuration for an AI assistant node.
type Config struct {
	Prompt      string
	UseRAG      bool
	Variable    string
	Scope       models.VariableScope
	Reply       bool
	ChannelType string
}

// NewAINode creates an AI assistant node. The retriever may be nil, in which
// case knowledge-base augmentation is unavailable.
func NewAINode(
	id string,
	config map[string]any,
	completer protocol.Completer,
	retriever protocol.Retriever,
	sender protocol.ChannelSender,
) (*AINode, error) {
	prompt, ok := config["prompt"].(string)
	if !ok || prompt == "" {
		return nil, errors.New("missing or invalid 'prompt' in configuration")
	}

	cfg := Config{
		Prompt: prompt,
		Scope:  models.ScopeSession,
		Reply:  true,
	}

	if useRAG, ok := config["use_rag"].(bool); ok {
		cfg.UseRAG = useRAG
	}

	if variable, ok := config["variable"].(string); ok {
		cfg.Variable = variable
	}

	if scope, ok := config["scope"].(string); ok && scope != "" {
		cfg.Scope = models.VariableScope(scope)
	}

	if reply, ok := config["reply"].(bool); ok {
		cfg.Reply = reply
	}

	if channelType, ok := config["channel_type"].(string); ok {
		cfg.ChannelType = channelType
	}

	if cfg.UseRAG && retriever == nil {
		return nil, errors.New("'use_rag' is set but no retriever is configured")
	}

	if cfg.Reply && sender == nil {
		return nil, errors.New("'reply' is set but no channel sender is configured")
	}

	return &AINode{
		id:        id,
		config:    cfg,
		completer: completer,
		retriever: retriever,
		sender:    sender,
	}, nil
}

// Execute completes the rendered prompt and advances on the first normal edge.
func (n *AINode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	prompt, err := template.RenderString(ctx, n.config.Prompt, &ec)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("failed to render prompt template: %w", err)
	}

	var chunks []string

	if n.config.UseRAG {
		chunks, err = n.retriever.Retrieve(ctx, prompt, n.id)
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("%w: knowledge retrieval: %w", protocol.ErrIntegration, err)
		}
	}

	completion, err := n.completer.Complete(ctx, prompt, chunks)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("%w: ai completion: %w", protocol.ErrIntegration, err)
	}

	output := map[string]any{
		"completion":      completion,
		"retrieved_count": len(chunks),
	}

	if n.config.Variable != "" {
		err = ec.Variables.Set(ctx, n.config.Scope, n.config.Variable, completion, models.VariableOptions{})
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("failed to store completion variable %q: %w", n.config.Variable, err)
		}
	}

	if n.config.Reply {
		result, err := n.sender.Send(ctx, ec.Session.ConversationID, n.channelType(&ec), map[string]any{
			"type": "text",
			"text": completion,
		})
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("%w: channel send: %w", protocol.ErrIntegration, err)
		}

		output["message_id"] = result.MessageID
		output["delivered"] = result.Delivered
	}

	return protocol.Advance("").WithOutput(output), nil
}

func (n *AINode) channelType(ec *protocol.ExecutionContext) string {
	if n.config.ChannelType != "" {
		return n.config.ChannelType
	}

	return ec.Session.ChannelType
}
