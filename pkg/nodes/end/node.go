// Package end provides the terminal node. Reaching it completes the session.
package end

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// EndNode marks the session completed.
type EndNode struct {
	id     string
	status models.SessionStatus
}

// NewEndNode creates an end node. An optional 'status' config key selects a
// terminal status other than completed.
func NewEndNode(id string, config map[string]any) (*EndNode, error) {
	status := models.SessionStatusCompleted

	if raw, ok := config["status"].(string); ok && raw != "" {
		candidate := models.SessionStatus(raw)
		if candidate.Terminal() {
			status = candidate
		}
	}

	return &EndNode{id: id, status: status}, nil
}

func (n *EndNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	return protocol.Terminate(n.status), nil
}

// Factory creates end nodes.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	return NewEndNode(node.ID, node.Config)
}

func (f *Factory) ID() string {
	return "end"
}

func (f *Factory) Name() string {
	return "End"
}

func (f *Factory) Description() string {
	return "Terminates the session"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"enum":        []string{"completed", "failed", "abandoned", "timeout"},
				"description": "Terminal status to finish with, defaults to completed",
			},
		},
	}
}
