package delay

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// Factory creates timer wait nodes. It is registered once for plain delays
// and once for follow-ups, which differ only in carrying deliverable content.
type Factory struct {
	kind string
	name string
}

func NewFactory(kind, name string) *Factory {
	return &Factory{kind: kind, name: name}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewDelayNode(node.ID, node.Config)
}

func (f *Factory) ID() string {
	return f.kind
}

func (f *Factory) Name() string {
	return f.name
}

func (f *Factory) Description() string {
	return "Suspends the session until a scheduled instant, optionally delivering content when the timer fires"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"delay_seconds": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Relative delay in seconds from the moment the node is entered",
			},
			"until": map[string]any{
				"type":        "string",
				"description": "Absolute RFC3339 instant to resume at, templates allowed",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression for recurring fires",
			},
			"channel_type": map[string]any{
				"type":        "string",
				"description": "Channel to deliver follow-up content on",
			},
			"content": map[string]any{
				"type":        "object",
				"description": "Message content delivered when the timer fires",
			},
		},
	}
}
