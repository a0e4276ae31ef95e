// Package eventbus provides event-driven communication between the engine,
// the channel adapters, and the rest of the platform.
package eventbus

import (
	"context"

	"github.com/convoflow/convoflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event on a topic. The key selects the partition,
// so events keyed by conversation ID stay ordered per conversation.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event Event) error
}

// EventSubscriber consumes one topic and dispatches by event type. Handlers
// must be registered with Handle before Subscribe starts the consumer loop.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context, topic string) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
