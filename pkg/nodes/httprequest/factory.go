package httprequest

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// Factory creates HTTP request nodes. One instance is registered per
// integration node type; they share the handler and differ only in metadata.
type Factory struct {
	kind string
	name string
}

func NewFactory(kind, name string) *Factory {
	return &Factory{kind: kind, name: name}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewHTTPNode(node.ID, node.Config)
}

func (f *Factory) ID() string {
	return f.kind
}

func (f *Factory) Name() string {
	return f.name
}

func (f *Factory) Description() string {
	return "Performs an outbound HTTP request and optionally captures the response into a variable"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Request URL, templates allowed",
			},
			"method": map[string]any{
				"type":        "string",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"description": "HTTP method, defaults to GET",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers, values may be templates",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body template",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Request timeout, defaults to 30 seconds",
			},
			"variable": map[string]any{
				"type":        "string",
				"description": "Variable name to store the response under",
			},
			"scope": map[string]any{
				"type":        "string",
				"enum":        []string{"global", "flow", "node", "user", "session"},
				"description": "Scope for the captured variable, defaults to session",
			},
		},
	}
}
