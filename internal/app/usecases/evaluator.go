package usecases

import (
	"context"
	"fmt"

	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// DefaultEdgeRouter implements the EdgeRouter interface
// PRINCIPLES:
// - SRP: Only responsible for following edges
// - KISS: At most one edge leaves a (node, port) pair
type DefaultEdgeRouter struct{}

// NewDefaultEdgeRouter creates a new edge router
func NewDefaultEdgeRouter() *DefaultEdgeRouter {
	return &DefaultEdgeRouter{}
}

// Next returns the node reached through (node, port).
func (r *DefaultEdgeRouter) Next(_ context.Context, g *graph.Graph, node *graph.Node, port graph.Port) (*graph.Node, error) {
	if port == "" {
		return nil, nil
	}
	edge, ok := g.OutgoingEdge(node.ID, port)
	if !ok {
		return nil, nil
	}
	target, ok := g.Node(edge.Target)
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", edge.ID, graph.ErrTargetNodeNotFound)
	}
	return target, nil
}
