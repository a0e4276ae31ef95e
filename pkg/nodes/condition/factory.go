package condition

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// Factory creates ConditionNode instances.
type Factory struct{}

// NewFactory creates a new factory instance.
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewConditionNode(node.ID, node.Config)
}

func (f *Factory) ID() string {
	return "condition"
}

func (f *Factory) Name() string {
	return "Condition"
}

func (f *Factory) Description() string {
	return "Evaluates an expression and routes along the outgoing edge whose label matches the result."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Expression to evaluate. The rendered result is matched against outgoing edge labels.",
				"examples": []string{
					`{{.variables.reply}}`,
					`{{eq .variables.status "active"}}`,
					`{{gt .variables.order_total 100.0}}`,
					`{{.input.content}}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}
