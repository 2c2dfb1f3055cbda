// Package graph defines domain-specific errors
package graph

import (
	"errors"
	"fmt"
)

// Domain errors - defined once, used everywhere
var (
	// Graph errors
	ErrGraphNotFound  = errors.New("graph not found")
	ErrInvalidGraphID = errors.New("invalid graph ID")
	ErrNilGraph       = errors.New("graph cannot be nil")
	ErrStructural     = errors.New("structural error")

	// Node errors
	ErrNilNode         = errors.New("node cannot be nil")
	ErrInvalidNodeID   = errors.New("invalid node ID")
	ErrInvalidNodeType = errors.New("invalid node type")
	ErrNodeNotFound    = errors.New("node not found")
	ErrDuplicateNode   = errors.New("duplicate node ID")

	// Edge errors
	ErrNilEdge            = errors.New("edge cannot be nil")
	ErrInvalidSource      = errors.New("invalid source node")
	ErrInvalidTarget      = errors.New("invalid target node")
	ErrSourceNodeNotFound = errors.New("source node not found")
	ErrTargetNodeNotFound = errors.New("target node not found")
	ErrDuplicateEdge      = errors.New("duplicate edge for source port")
)

// StructuralErrorKind classifies why a graph cannot be executed.
type StructuralErrorKind string

const (
	KindEmptyNodeID       StructuralErrorKind = "empty_node_id"
	KindDuplicateNodeID   StructuralErrorKind = "duplicate_node_id"
	KindUnknownNodeType   StructuralErrorKind = "unknown_node_type"
	KindInactiveNodeType  StructuralErrorKind = "inactive_node_type"
	KindMissingStart      StructuralErrorKind = "missing_start"
	KindDuplicateStart    StructuralErrorKind = "duplicate_start"
	KindEmptyEdge         StructuralErrorKind = "empty_edge"
	KindDanglingSource    StructuralErrorKind = "dangling_source"
	KindDanglingTarget    StructuralErrorKind = "dangling_target"
	KindDuplicatePortEdge StructuralErrorKind = "duplicate_port_edge"
)

// StructuralError is returned by Validate. It always matches ErrStructural.
type StructuralError struct {
	Kind   StructuralErrorKind `json:"kind"`
	NodeID string              `json:"node_id,omitempty"`
	EdgeID string              `json:"edge_id,omitempty"`
	Detail string              `json:"detail,omitempty"`
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("invalid graph: %s", e.Kind)
	if e.NodeID != "" {
		msg += fmt.Sprintf(" (node %q)", e.NodeID)
	}
	if e.EdgeID != "" {
		msg += fmt.Sprintf(" (edge %q)", e.EdgeID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StructuralError) Unwrap() error { return ErrStructural }
