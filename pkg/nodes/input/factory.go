package input

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// Factory creates InputNode instances.
type Factory struct{}

// NewFactory creates a new factory instance.
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewInputNode(node.ID, node.Config)
}

func (f *Factory) ID() string {
	return "input"
}

func (f *Factory) Name() string {
	return "Input"
}

func (f *Factory) Description() string {
	return "Suspends the session until the contact replies, then captures the answer into a variable."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variable": map[string]any{
				"type":        "string",
				"description": "Variable name the answer is stored under.",
			},
			"scope": map[string]any{
				"type": "string",
				"enum": []string{"session", "node", "flow", "user", "global"},
			},
			"input_type": map[string]any{
				"type": "string",
				"enum": []string{"any", "text", "number", "email", "phone", "option"},
			},
			"pattern": map[string]any{
				"type":        "string",
				"description": "Optional regular expression the answer must match.",
			},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Allowed answers for option input.",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Wait timeout. Zero means wait indefinitely.",
			},
		},
		"required": []string{"variable"},
	}
}
