package graph

import "fmt"

// TypeInfo is what validation needs to know about a node type.
type TypeInfo struct {
	Outputs []Port
	Active  bool
}

// TypeResolver answers which node types exist. The node registry implements it.
type TypeResolver interface {
	Describe(t NodeType) (TypeInfo, bool)
}

type portKey struct {
	source string
	port   Port
}

// Validate checks that the graph can be executed. It returns nil or the first
// *StructuralError found; node checks run before edge checks.
func (g *Graph) Validate(types TypeResolver) error {
	if g == nil {
		return ErrNilGraph
	}

	ids := make(map[string]struct{}, len(g.Nodes))
	starts := 0
	for _, n := range g.Nodes {
		if n == nil || n.ID == "" {
			return &StructuralError{Kind: KindEmptyNodeID}
		}
		if _, dup := ids[n.ID]; dup {
			return &StructuralError{Kind: KindDuplicateNodeID, NodeID: n.ID}
		}
		ids[n.ID] = struct{}{}

		info, known := types.Describe(n.Type)
		if !known {
			return &StructuralError{Kind: KindUnknownNodeType, NodeID: n.ID, Detail: string(n.Type)}
		}
		if !info.Active {
			return &StructuralError{Kind: KindInactiveNodeType, NodeID: n.ID, Detail: string(n.Type)}
		}
		if n.Type == NodeTypeStart {
			starts++
		}
	}

	switch {
	case starts == 0:
		return &StructuralError{Kind: KindMissingStart}
	case starts > 1:
		return &StructuralError{Kind: KindDuplicateStart, Detail: fmt.Sprintf("%d start nodes", starts)}
	}

	seen := make(map[portKey]string, len(g.Edges))
	for i, e := range g.Edges {
		if e == nil {
			return &StructuralError{Kind: KindEmptyEdge, Detail: fmt.Sprintf("edge %d is null", i)}
		}
		if _, ok := ids[e.Source]; !ok {
			return &StructuralError{Kind: KindDanglingSource, EdgeID: e.ID, NodeID: e.Source}
		}
		if _, ok := ids[e.Target]; !ok {
			return &StructuralError{Kind: KindDanglingTarget, EdgeID: e.ID, NodeID: e.Target}
		}
		key := portKey{source: e.Source, port: e.SourcePort}
		if other, dup := seen[key]; dup {
			return &StructuralError{
				Kind:   KindDuplicatePortEdge,
				EdgeID: e.ID,
				NodeID: e.Source,
				Detail: fmt.Sprintf("port %q already used by edge %q", e.SourcePort, other),
			}
		}
		seen[key] = e.ID
	}
	return nil
}
