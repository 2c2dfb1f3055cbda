package usecases

import (
	"context"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

// GraphRepository defines the interface for graph storage and retrieval
// PRINCIPLES:
// - SRP: Only responsible for graph persistence
// - DIP: Used for dependency injection
type GraphRepository interface {
	Save(ctx context.Context, g *graph.Graph) error
	Get(ctx context.Context, id string) (*graph.Graph, error)
	List(ctx context.Context) ([]*graph.Graph, error)
	Delete(ctx context.Context, id string) error
}

// Run is everything the executor needs for one execution. The graph is a
// private snapshot that has already passed validation.
type Run struct {
	Graph     *graph.Graph
	Execution *execution.Execution
	Seed      vars.Seed
}

// GraphExecutor defines the interface for executing graphs
// PRINCIPLES:
// - SRP: Single responsibility for graph execution orchestration
// - DIP: Depends on abstractions, not concretions
type GraphExecutor interface {
	// Execute drives the run to a terminal status and returns the final record
	Execute(ctx context.Context, run *Run) (*execution.Execution, error)

	// Stop cancels a running execution
	Stop(ctx context.Context, executionID string) error

	// GetStatus returns the live record of a running execution
	GetStatus(ctx context.Context, executionID string) (*execution.Execution, error)
}

// NodeProcessor defines the interface for processing individual nodes
type NodeProcessor interface {
	// Process runs a single node against the current context
	Process(ctx context.Context, node *graph.Node, vc vars.Context) (nodes.Result, error)

	// CanProcess returns true if this processor can handle the given node type
	CanProcess(nodeType graph.NodeType) bool
}

// EdgeRouter picks the node that follows a visited node.
type EdgeRouter interface {
	// Next returns the target of the edge leaving node through port, or
	// (nil, nil) when there is none.
	Next(ctx context.Context, g *graph.Graph, node *graph.Node, port graph.Port) (*graph.Node, error)
}
