// Package channels bridges the engine to the channel adapters. Delivery is
// asynchronous: send requests are published on the outbound topic and the
// transport-specific adapters (WhatsApp, email, SMS, webchat) consume them.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// EventBusSender publishes message send requests on the outbound topic.
// Delivered reports acceptance by the bus, not receipt by the contact.
type EventBusSender struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewEventBusSender(publisher eventbus.EventPublisher, logger *slog.Logger) *EventBusSender {
	return &EventBusSender{
		publisher: publisher,
		logger:    logger.With("module", "channels"),
	}
}

func (s *EventBusSender) Send(ctx context.Context, conversationID, channelType string, message map[string]any) (*protocol.DeliveryResult, error) {
	event := events.MessageSendRequested{
		BaseEvent: events.BaseEvent{
			ID:             uuid.NewString(),
			Type:           events.MessageSendRequestedEvent,
			Timestamp:      time.Now().UTC(),
			ConversationID: conversationID,
		},
		ChannelType: channelType,
		Message:     message,
	}

	if err := s.publisher.Publish(ctx, events.OutboundTopic, conversationID, event); err != nil {
		return nil, fmt.Errorf("failed to publish send request: %w", err)
	}

	s.logger.DebugContext(ctx, "Message send requested",
		"conversation_id", conversationID, "channel_type", channelType)

	return &protocol.DeliveryResult{MessageID: event.ID, Delivered: true}, nil
}
