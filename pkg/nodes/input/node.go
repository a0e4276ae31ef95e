// Package input provides the wait-for-user-input node. On first execution it
// suspends the session with an input-type specification; when the session is
// resumed with validated input it captures the answer into a variable and
// advances.
package input

import (
	"context"
	"errors"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// InputNode captures one typed answer from the contact.
type InputNode struct {
	id     string
	config Config
}

// Config defines the configuration for input nodes.
type Config struct {
	Variable       string
	Scope          models.VariableScope
	InputType      models.InputType
	Pattern        string
	Options        []string
	TimeoutSeconds int
}

// NewInputNode creates an input node.
func NewInputNode(id string, config map[string]any) (*InputNode, error) {
	cfg := Config{
		Scope:     models.ScopeSession,
		InputType: models.InputTypeText,
	}

	variable, ok := config["variable"].(string)
	if !ok || variable == "" {
		return nil, errors.New("missing required field 'variable'")
	}

	cfg.Variable = variable

	if scope, ok := config["scope"].(string); ok && scope != "" {
		cfg.Scope = models.VariableScope(scope)
	}

	if inputType, ok := config["input_type"].(string); ok && inputType != "" {
		cfg.InputType = models.InputType(inputType)
	}

	if pattern, ok := config["pattern"].(string); ok {
		cfg.Pattern = pattern
	}

	if options, ok := config["options"].([]any); ok {
		for _, option := range options {
			if s, ok := option.(string); ok {
				cfg.Options = append(cfg.Options, s)
			}
		}
	}

	if timeout, ok := config["timeout_seconds"].(float64); ok {
		cfg.TimeoutSeconds = int(timeout)
	}

	return &InputNode{id: id, config: cfg}, nil
}

// Execute waits on first entry and captures the answer on resume. Input
// validation against the expected type happens in the session manager before
// the handler runs again, so a resumed event here is already valid.
func (n *InputNode) Execute(ctx context.Context, ec protocol.ExecutionContext) (protocol.Outcome, error) {
	if ec.Input == nil || ec.Input.Kind != models.EventKindMessage {
		return protocol.WaitFor(protocol.WaitSpec{
			Kind:          models.WaitKindInput,
			ExpectedInput: n.config.InputType,
			Pattern:       n.config.Pattern,
			Options:       n.config.Options,
			Timeout:       time.Duration(n.config.TimeoutSeconds) * time.Second,
			Reason:        "awaiting " + string(n.config.InputType) + " input",
		}), nil
	}

	err := ec.Variables.Set(ctx, n.config.Scope, n.config.Variable, ec.Input.Content, models.VariableOptions{})
	if err != nil {
		return protocol.Outcome{}, err
	}

	return protocol.Advance("").WithOutput(map[string]any{
		"variable": n.config.Variable,
		"value":    ec.Input.Content,
	}), nil
}
