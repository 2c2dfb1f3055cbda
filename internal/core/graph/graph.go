// Package graph provides the core graph domain entities
// following Clean Architecture principles with zero external dependencies.
package graph

import (
	"fmt"
	"time"
)

// Graph represents a workflow document: typed nodes joined by port-labeled edges
// PRINCIPLES:
// - KISS: Simple struct, no complex hierarchies
// - SRP: Only responsible for graph structure, not execution
type Graph struct {
	ID      string  `json:"id"`
	Name    string  `json:"name,omitempty"`
	Version int     `json:"version"`
	Counter int     `json:"counter"`
	Nodes   []*Node `json:"nodes"`
	Edges   []*Edge `json:"edges"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n != nil && n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// StartNode returns the first start node. Validate guarantees there is exactly one.
func (g *Graph) StartNode() (*Node, bool) {
	for _, n := range g.Nodes {
		if n != nil && n.Type == NodeTypeStart {
			return n, true
		}
	}
	return nil, false
}

// OutgoingEdge returns the edge leaving source through port, if any.
func (g *Graph) OutgoingEdge(source string, port Port) (*Edge, bool) {
	for _, e := range g.Edges {
		if e != nil && e.Source == source && e.SourcePort == port {
			return e, true
		}
	}
	return nil, false
}

// AddNode adds a node to the graph
// PRINCIPLES:
// - KISS: Direct and simple implementation
// - SRP: Only adds node, doesn't validate graph
func (g *Graph) AddNode(node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	if err := node.Validate(); err != nil {
		return err
	}
	if _, exists := g.Node(node.ID); exists {
		return ErrDuplicateNode
	}
	g.Nodes = append(g.Nodes, node)
	g.UpdatedAt = time.Now()
	return nil
}

// AddEdge adds an edge to the graph
func (g *Graph) AddEdge(edge *Edge) error {
	if edge == nil {
		return ErrNilEdge
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	if _, exists := g.Node(edge.Source); !exists {
		return ErrSourceNodeNotFound
	}
	if _, exists := g.Node(edge.Target); !exists {
		return ErrTargetNodeNotFound
	}
	if _, exists := g.OutgoingEdge(edge.Source, edge.SourcePort); exists {
		return ErrDuplicateEdge
	}
	if edge.ID == "" {
		edge.ID = fmt.Sprintf("e_%s_%s_%s", edge.Source, edge.SourcePort, edge.Target)
	}
	g.Edges = append(g.Edges, edge)
	g.UpdatedAt = time.Now()
	return nil
}

// PlaceNode creates a node of the given type with an id of the form
// "<type>_<n>", where n comes from the document's own counter.
func (g *Graph) PlaceNode(t NodeType, label string, pos Position) *Node {
	var id string
	for {
		g.Counter++
		id = fmt.Sprintf("%s_%d", t, g.Counter)
		if _, taken := g.Node(id); !taken {
			break
		}
	}
	n := &Node{ID: id, Type: t, Label: label, Position: pos, Config: map[string]any{}}
	g.Nodes = append(g.Nodes, n)
	g.UpdatedAt = time.Now()
	return n
}

// Clone returns a deep copy. Executions run against a clone so later edits
// never reach an in-flight run. Nil entries stay nil for Validate to report.
func (g *Graph) Clone() *Graph {
	cp := *g
	cp.Nodes = make([]*Node, len(g.Nodes))
	for i, n := range g.Nodes {
		if n != nil {
			cp.Nodes[i] = n.Clone()
		}
	}
	cp.Edges = make([]*Edge, len(g.Edges))
	for i, e := range g.Edges {
		if e != nil {
			ec := *e
			cp.Edges[i] = &ec
		}
	}
	return &cp
}

// Normalize binds edges with an empty source port to the only output port of
// their source node, when the node type declares exactly one.
func (g *Graph) Normalize(types TypeResolver) {
	for _, e := range g.Edges {
		if e == nil || e.SourcePort != "" {
			continue
		}
		src, ok := g.Node(e.Source)
		if !ok {
			continue
		}
		info, ok := types.Describe(src.Type)
		if ok && len(info.Outputs) == 1 {
			e.SourcePort = info.Outputs[0]
		}
	}
}
