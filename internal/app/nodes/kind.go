// Package nodes is the node type registry: one Kind per node type, each
// declaring its ports, its default configuration and its step semantics.
package nodes

import (
	"context"

	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

// Category groups node types in the editor palette.
type Category string

const (
	CategoryFlow     Category = "flow"
	CategoryData     Category = "data"
	CategoryExternal Category = "external"
	CategoryLogic    Category = "logic"
	CategoryTime     Category = "time"
)

// Descriptor is the static description of a node type.
type Descriptor struct {
	Type          graph.NodeType `json:"type"`
	Label         string         `json:"label"`
	Category      Category       `json:"category"`
	Outputs       []graph.Port   `json:"outputs"`
	DefaultConfig map[string]any `json:"default_config"`
	Active        bool           `json:"active"`
}

// Input is what a step function sees: the node, its config merged over the
// type defaults, and the current variable context.
type Input struct {
	Node   *graph.Node
	Config map[string]any
	Vars   vars.Context
}

// Finish is set by terminal nodes and decides the execution status.
type Finish struct {
	Success bool
	Message string
}

// Result is a successful step. A failed step is reported as a *FatalError.
type Result struct {
	Port       graph.Port
	Output     any
	Variables  map[string]any
	LogMessage string
	Finish     *Finish
}

// Patch converts the result into the context change it contributes.
func (r Result) Patch() vars.Patch {
	out := r.Output
	if out == nil {
		out = map[string]any{}
	}
	return vars.Patch{Output: out, HasOutput: true, Variables: r.Variables}
}

// Kind is implemented once per node type.
// PRINCIPLES:
// - OCP: adding a node type means adding a Kind, not editing the engine
type Kind interface {
	Descriptor() Descriptor
	Step(ctx context.Context, in Input) (Result, error)
}
