package services

import (
	"context"
	"fmt"

	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/app/usecases"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/values"
)

// GraphService manages graph documents for the editor
// PRINCIPLES:
// - SRP: Graph authoring only; execution lives in ExecutionService
type GraphService struct {
	repo     usecases.GraphRepository
	registry *nodes.Registry
}

// NewGraphService creates a new graph service
func NewGraphService(repo usecases.GraphRepository, registry *nodes.Registry) *GraphService {
	return &GraphService{repo: repo, registry: registry}
}

// Save normalizes and stores a graph document. Incomplete drafts are
// accepted; structure is checked by Validate and at trigger time.
func (s *GraphService) Save(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	if g == nil {
		return nil, graph.ErrNilGraph
	}
	g.Normalize(s.registry)
	if err := s.repo.Save(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Get returns a stored graph
func (s *GraphService) Get(ctx context.Context, id string) (*graph.Graph, error) {
	return s.repo.Get(ctx, id)
}

// List returns every stored graph
func (s *GraphService) List(ctx context.Context) ([]*graph.Graph, error) {
	return s.repo.List(ctx)
}

// Delete removes a stored graph
func (s *GraphService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Validate reports the first structural problem of g, or nil.
func (s *GraphService) Validate(g *graph.Graph) error {
	if g == nil {
		return graph.ErrNilGraph
	}
	cp := g.Clone()
	cp.Normalize(s.registry)
	return cp.Validate(s.registry)
}

// PlaceNode adds a node of the requested type to a stored graph. The id comes
// from the graph's own counter and the config starts from the type defaults.
func (s *GraphService) PlaceNode(ctx context.Context, schemaID string, req *dto.PlaceNodeRequest) (*graph.Node, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind, ok := s.registry.Lookup(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", nodes.ErrUnknownNodeType, req.Type)
	}
	desc := kind.Descriptor()

	g, err := s.repo.Get(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	label := req.Label
	if label == "" {
		label = desc.Label
	}
	n := g.PlaceNode(req.Type, label, req.Position)
	n.Config = values.Merge(desc.DefaultConfig, req.Config)

	if err := s.repo.Save(ctx, g); err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// Catalog lists the node types the editor palette offers
func (s *GraphService) Catalog() []nodes.Descriptor {
	return s.registry.Catalog()
}
