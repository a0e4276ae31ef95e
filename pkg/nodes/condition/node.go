// Package condition provides the branching node: it evaluates a templated
// expression against the session context and routes along the outgoing edge
// whose label matches the result.
package condition

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/convoflow/convoflow/pkg/protocol"
	"github.com/convoflow/convoflow/pkg/template"
)

// ConditionNode evaluates its expression and emits an advance-edge outcome.
// Edge resolution (label match, default fallback, branch-resolution failure)
// is the engine's job; the node only produces the label.
type ConditionNode struct {
	id         string
	expression string
}

// NewConditionNode creates a condition node.
func NewConditionNode(id string, config map[string]any) (*ConditionNode, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, errors.New("missing required field 'expression'")
	}

	return &ConditionNode{id: id, expression: expression}, nil
}

// Execute renders the expression and maps the result to an edge label:
// booleans become "true"/"false", numbers and strings their literal text.
func (n *ConditionNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	result, err := template.RenderWithContext(ctx, n.expression, &ec)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	label := labelFor(result)

	return protocol.AdvanceEdge(label, n.expression).WithOutput(map[string]any{
		"expression": n.expression,
		"result":     result,
		"label":      label,
	}), nil
}

func labelFor(result any) string {
	switch v := result.(type) {
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
