// Package registry provides node handler factory registration and node
// configuration validation.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/protocol"
)

type Registry struct {
	logger        *slog.Logger
	nodeFactories map[string]protocol.NodeFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		nodeFactories: make(map[string]protocol.NodeFactory),
	}
}

func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.nodeFactories[factory.ID()] = factory
}

// NodeTypes returns the registered node type ids.
func (r *Registry) NodeTypes() []string {
	types := make([]string, 0, len(r.nodeFactories))
	for nodeType := range r.nodeFactories {
		types = append(types, nodeType)
	}

	return types
}

// Factory returns the factory for a node type.
func (r *Registry) Factory(nodeType string) (protocol.NodeFactory, bool) {
	factory, ok := r.nodeFactories[nodeType]

	return factory, ok
}

// CreateHandler validates the node's configuration against the factory's
// JSON schema and instantiates a handler for it.
func (r *Registry) CreateHandler(ctx context.Context, node *models.FlowNode) (protocol.NodeHandler, error) {
	factory, ok := r.nodeFactories[string(node.Type)]
	if !ok {
		return nil, fmt.Errorf("node type '%s' not registered", node.Type)
	}

	if err := r.validateConfig(factory, node); err != nil {
		return nil, err
	}

	return factory.Create(ctx, node)
}

// ValidateNode checks that the node's type is registered and its config
// passes the factory's JSON schema, without instantiating a handler.
func (r *Registry) ValidateNode(node *models.FlowNode) error {
	factory, ok := r.nodeFactories[string(node.Type)]
	if !ok {
		return fmt.Errorf("node type '%s' not registered", node.Type)
	}

	return r.validateConfig(factory, node)
}

func (r *Registry) validateConfig(factory protocol.NodeFactory, node *models.FlowNode) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config for node %s: %w", node.ID, err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			detail += desc.String() + "; "
		}

		return fmt.Errorf("invalid config for node %s (%s): %s", node.ID, node.Type, detail)
	}

	return nil
}
