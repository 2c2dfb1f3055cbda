package graphrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// InMemoryGraphRepository provides an in-memory implementation of a graph repository
// PRINCIPLES:
// - KISS: Simple map-based storage
// - SRP: Only responsible for graph persistence
// - Thread-safe
//
// Graphs go in and come out as clones, so an edit saved later never reaches a
// run that already holds its copy. Every save bumps the version.
type InMemoryGraphRepository struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
	now    func() time.Time
}

func NewInMemoryGraphRepository() *InMemoryGraphRepository {
	return &InMemoryGraphRepository{
		graphs: make(map[string]*graph.Graph),
		now:    time.Now,
	}
}

// Save stores a copy of g. Drafts may be structurally incomplete; only the
// fields of each node and edge are checked here. g.Version and g.UpdatedAt
// are set to the stored values.
func (r *InMemoryGraphRepository) Save(_ context.Context, g *graph.Graph) error {
	if g == nil {
		return graph.ErrNilGraph
	}
	if g.ID == "" {
		return graph.ErrInvalidGraphID
	}
	for _, n := range g.Nodes {
		if n == nil {
			return fmt.Errorf("invalid graph: %w", graph.ErrNilNode)
		}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("invalid graph: %w", err)
		}
	}
	for _, e := range g.Edges {
		if e == nil {
			return fmt.Errorf("invalid graph: %w", graph.ErrNilEdge)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid graph: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	version := 1
	if prev, ok := r.graphs[g.ID]; ok {
		version = prev.Version + 1
	}
	g.Version = version
	g.UpdatedAt = r.now().UTC()
	r.graphs[g.ID] = g.Clone()
	return nil
}

func (r *InMemoryGraphRepository) Get(_ context.Context, id string) (*graph.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrGraphNotFound, id)
	}
	return g.Clone(), nil
}

// List returns every graph ordered by id.
func (r *InMemoryGraphRepository) List(_ context.Context) ([]*graph.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*graph.Graph, 0, len(r.graphs))
	for _, g := range r.graphs {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryGraphRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[id]; !ok {
		return fmt.Errorf("%w: %s", graph.ErrGraphNotFound, id)
	}
	delete(r.graphs, id)
	return nil
}
