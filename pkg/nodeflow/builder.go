package nodeflow

import (
	"context"
	"fmt"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/core/values"
)

// Builder assembles a graph. Node ids come from the graph's own counter, so
// Place returns the id to connect with. The first error sticks and is
// reported by Graph and Save.
type Builder struct {
	rt  *Runtime
	g   *Graph
	err error
}

// Place adds a node of type t. config is merged over the type defaults.
func (b *Builder) Place(t NodeType, config map[string]any) string {
	if b.err != nil {
		return ""
	}
	kind, ok := b.rt.registry.Lookup(t)
	if !ok {
		b.err = fmt.Errorf("%w: %s", nodes.ErrUnknownNodeType, t)
		return ""
	}
	desc := kind.Descriptor()
	n := b.g.PlaceNode(t, desc.Label, Position{})
	n.Config = values.Merge(desc.DefaultConfig, config)
	return n.ID
}

// Connect links source's port to target. An empty port binds to the source's
// only output when it has one.
func (b *Builder) Connect(source string, port Port, target string) *Builder {
	if b.err != nil {
		return b
	}
	if port == "" {
		if n, ok := b.g.Node(source); ok {
			if info, known := b.rt.registry.Describe(n.Type); known && len(info.Outputs) == 1 {
				port = info.Outputs[0]
			}
		}
	}
	if err := b.g.AddEdge(&Edge{Source: source, SourcePort: port, Target: target}); err != nil {
		b.err = fmt.Errorf("connect %s -> %s: %w", source, target, err)
	}
	return b
}

// Chain places each type in order and connects them through their single
// output port, starting from source. It returns the last node's id.
func (b *Builder) Chain(source string, types ...NodeType) string {
	last := source
	for _, t := range types {
		id := b.Place(t, nil)
		b.Connect(last, "", id)
		last = id
	}
	return last
}

// Graph returns a validated copy of the graph built so far.
func (b *Builder) Graph() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	g := b.g.Clone()
	g.Normalize(b.rt.registry)
	if err := g.Validate(b.rt.registry); err != nil {
		return nil, err
	}
	return g, nil
}

// Save validates the graph and stores it in the runtime.
func (b *Builder) Save(ctx context.Context) (*Graph, error) {
	g, err := b.Graph()
	if err != nil {
		return nil, err
	}
	return b.rt.SaveGraph(ctx, g)
}
