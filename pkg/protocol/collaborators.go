package protocol

import (
	"context"
	"time"
)

// DeliveryResult reports the outcome of one channel send.
type DeliveryResult struct {
	MessageID string `json:"message_id"`
	Delivered bool   `json:"delivered"`
}

// ChannelSender delivers a message on a conversation's channel. The actual
// transport (WhatsApp, email, SMS, webchat) lives outside the engine.
type ChannelSender interface {
	Send(ctx context.Context, conversationID, channelType string, message map[string]any) (*DeliveryResult, error)
}

// Completer is an external AI completion capability.
type Completer interface {
	Complete(ctx context.Context, prompt string, context []string) (string, error)
}

// Retriever fetches knowledge-base chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, nodeID string) ([]string, error)
}

// BotController mutates conversation-level bot-enable flags.
type BotController interface {
	SetBotEnabled(ctx context.Context, conversationID string, enabled bool) error
	ResetBot(ctx context.Context, conversationID string) error
}

// PipelineClient applies CRM pipeline/deal side effects.
type PipelineClient interface {
	MoveDeal(ctx context.Context, contactID, pipelineID, stageID string) error
}

// CalendarClient books calendar slots on behalf of a contact.
type CalendarClient interface {
	Book(ctx context.Context, contactID string, slot time.Time, details map[string]any) (string, error)
}
