// Package graph provides edge definitions
package graph

// Port names an exit point on a node. The node type decides which ports exist.
type Port string

const (
	PortOutput  Port = "output"
	PortSuccess Port = "success"
	PortError   Port = "error"
	PortTrue    Port = "true"
	PortFalse   Port = "false"
)

// Edge represents a connection from a node port to another node
// PRINCIPLES:
// - KISS: Simple edge representation
// - SRP: Only responsible for edge data
type Edge struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	SourcePort Port   `json:"sourceHandle,omitempty"`
	Target     string `json:"target"`
	TargetPort string `json:"targetHandle,omitempty"`
	// Rendering hints, opaque to the engine.
	RenderType string `json:"type,omitempty"`
	Animated   bool   `json:"animated,omitempty"`
}

// Validate ensures edge integrity
func (e *Edge) Validate() error {
	if e.Source == "" {
		return ErrInvalidSource
	}
	if e.Target == "" {
		return ErrInvalidTarget
	}
	return nil
}
