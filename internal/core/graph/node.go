// Package graph provides node definitions
package graph

import (
	"encoding/json"

	"github.com/flowgraph/nodeflow/internal/core/values"
)

// NodeType represents the type of node
type NodeType string

const (
	NodeTypeStart           NodeType = "start"
	NodeTypeEnd             NodeType = "end"
	NodeTypeLog             NodeType = "log"
	NodeTypeHTTPRequest     NodeType = "http_request"
	NodeTypeCondition       NodeType = "condition"
	NodeTypeVariableSet     NodeType = "variable_set"
	NodeTypeSleep           NodeType = "sleep"
	NodeTypeMath            NodeType = "math"
	NodeTypeRabbitMQPublish NodeType = "rabbitmq_publish"
)

// Position is the canvas location of a node. It is a rendering hint only.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a vertex in the graph
// PRINCIPLES:
// - KISS: Simple node representation
// - SRP: Only responsible for node data
type Node struct {
	ID       string
	Type     NodeType
	Label    string
	Config   map[string]any
	Position Position
}

// nodeData mirrors the editor's "data" envelope.
type nodeData struct {
	Type   NodeType       `json:"type"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

type nodeWire struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type,omitempty"`
	Position Position `json:"position"`
	Data     nodeData `json:"data"`
}

// MarshalJSON writes the editor wire shape {id, type, position, data{type,label,config}}.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeWire{
		ID:       n.ID,
		Type:     n.Type,
		Position: n.Position,
		Data:     nodeData{Type: n.Type, Label: n.Label, Config: n.Config},
	})
}

// UnmarshalJSON reads the editor wire shape. data.type wins over the top-level type.
func (n *Node) UnmarshalJSON(b []byte) error {
	var w nodeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	n.ID = w.ID
	n.Type = w.Data.Type
	if n.Type == "" {
		n.Type = w.Type
	}
	n.Label = w.Data.Label
	n.Config = w.Data.Config
	n.Position = w.Position
	return nil
}

// Validate ensures node integrity
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrInvalidNodeID
	}
	if n.Type == "" {
		return ErrInvalidNodeType
	}
	return nil
}

// Clone returns a deep copy of the node
func (n *Node) Clone() *Node {
	cp := *n
	cp.Config = values.CloneMap(n.Config)
	return &cp
}
