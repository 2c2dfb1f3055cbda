package usecases

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

// DefaultNodeProcessor implements the NodeProcessor interface on top of the
// node type registry
// PRINCIPLES:
// - SRP: Handles only node dispatch
// - LSP: Substitutable for any NodeProcessor implementation
type DefaultNodeProcessor struct {
	registry *nodes.Registry
	logger   *zap.Logger
}

// NewDefaultNodeProcessor creates a new node processor
func NewDefaultNodeProcessor(registry *nodes.Registry, logger *zap.Logger) *DefaultNodeProcessor {
	if registry == nil {
		registry = nodes.NewRegistry(nodes.WithLogger(logger))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultNodeProcessor{registry: registry, logger: logger}
}

// Process runs a single node against the current context
func (p *DefaultNodeProcessor) Process(ctx context.Context, node *graph.Node, vc vars.Context) (nodes.Result, error) {
	res, err := p.registry.Process(ctx, node, vc)
	if err != nil {
		p.logger.Debug("node failed",
			zap.String("node_id", node.ID),
			zap.String("node_type", string(node.Type)),
			zap.Error(err),
		)
		return nodes.Result{}, err
	}
	return res, nil
}

// CanProcess returns true if this processor can handle the given node type
func (p *DefaultNodeProcessor) CanProcess(nodeType graph.NodeType) bool {
	return p.registry.CanProcess(nodeType)
}

// Registry exposes the underlying registry.
func (p *DefaultNodeProcessor) Registry() *nodes.Registry { return p.registry }
