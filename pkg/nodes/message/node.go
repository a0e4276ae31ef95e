// Package message provides the message-family node handlers: plain text,
// media, channel templates, and interactive messages. Delivery is delegated
// to the external channel adapter behind protocol.ChannelSender.
package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/template"
)

// MessageNode sends one message on the session's conversation and advances.
type MessageNode struct {
	id     string
	kind   string
	sender protocol.ChannelSender
	config Config
}

// Config defines the configuration for message nodes.
type Config struct {
	Content     string         `json:"content"`
	MediaURL    string         `json:"media_url,omitempty"`
	Caption     string         `json:"caption,omitempty"`
	TemplateID  string         `json:"template_id,omitempty"`
	Buttons     []any          `json:"buttons,omitempty"`
	ChannelType string         `json:"channel_type,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NewMessageNode creates a message node of the given kind.
func NewMessageNode(id, kind string, config map[string]any, sender protocol.ChannelSender) (*MessageNode, error) {
	if sender == nil {
		return nil, errors.New("message node requires a channel sender")
	}

	cfg := Config{}

	if content, ok := config["content"].(string); ok {
		cfg.Content = content
	}

	if mediaURL, ok := config["media_url"].(string); ok {
		cfg.MediaURL = mediaURL
	}

	if caption, ok := config["caption"].(string); ok {
		cfg.Caption = caption
	}

	if templateID, ok := config["template_id"].(string); ok {
		cfg.TemplateID = templateID
	}

	if buttons, ok := config["buttons"].([]any); ok {
		cfg.Buttons = buttons
	}

	if channelType, ok := config["channel_type"].(string); ok {
		cfg.ChannelType = channelType
	}

	if extra, ok := config["extra"].(map[string]any); ok {
		cfg.Extra = extra
	}

	if kind == "message" && cfg.Content == "" {
		return nil, errors.New("missing required field 'content'")
	}

	if kind == "media" && cfg.MediaURL == "" {
		return nil, errors.New("missing required field 'media_url'")
	}

	if kind == "template" && cfg.TemplateID == "" {
		return nil, errors.New("missing required field 'template_id'")
	}

	return &MessageNode{id: id, kind: kind, sender: sender, config: cfg}, nil
}

// Execute renders the message against the session context, requests the
// send, and advances. A failed adapter call is a node error subject to the
// node's retry budget, not a session failure by itself.
func (n *MessageNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	payload := map[string]any{"kind": n.kind}

	if n.config.Content != "" {
		content, err := template.RenderString(ctx, n.config.Content, &ec)
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("failed to render message content: %w", err)
		}

		payload["content"] = content
	}

	if n.config.MediaURL != "" {
		mediaURL, err := template.RenderString(ctx, n.config.MediaURL, &ec)
		if err != nil {
			return protocol.Outcome{}, fmt.Errorf("failed to render media url: %w", err)
		}

		payload["media_url"] = mediaURL
	}

	if n.config.Caption != "" {
		payload["caption"] = n.config.Caption
	}

	if n.config.TemplateID != "" {
		payload["template_id"] = n.config.TemplateID
	}

	if len(n.config.Buttons) > 0 {
		payload["buttons"] = n.config.Buttons
	}

	for k, v := range n.config.Extra {
		payload[k] = v
	}

	channelType := n.config.ChannelType
	if channelType == "" {
		channelType = ec.Session.ChannelType
	}

	result, err := n.sender.Send(ctx, ec.Session.ConversationID, channelType, payload)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("%w: channel send: %w", protocol.ErrIntegration, err)
	}

	return protocol.Advance("").WithOutput(map[string]any{
		"message_id": result.MessageID,
		"delivered":  result.Delivered,
	}), nil
}
