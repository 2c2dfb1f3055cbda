package dto

import (
	"fmt"

	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/pkg/validation"
)

// TriggerRequest starts one execution of a saved graph
type TriggerRequest struct {
	SchemaID       string         `json:"schema_id" validate:"required,identifier"`
	TriggerPayload map[string]any `json:"trigger_payload"`
	DebugMode      bool           `json:"debug_mode"`
	Variables      map[string]any `json:"variables"`
	User           map[string]any `json:"user"`
}

// Validate checks the request's struct rules.
func (r *TriggerRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// TriggerResponse acknowledges an accepted trigger
type TriggerResponse struct {
	ExecutionID string           `json:"execution_id"`
	Status      execution.Status `json:"status"`
}

// ListRequest pages through a graph's execution history
type ListRequest struct {
	SchemaID string `json:"schema_id" validate:"required,identifier"`
	Limit    int    `json:"limit" validate:"min=0,max=500"`
	Offset   int    `json:"offset" validate:"min=0"`
}

// Validate checks the request's struct rules.
func (r *ListRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Filter converts the request into a store filter.
func (r *ListRequest) Filter() execution.Filter {
	limit := r.Limit
	if limit == 0 {
		limit = 50
	}
	return execution.Filter{SchemaID: r.SchemaID, Limit: limit, Offset: r.Offset}
}

// ExecutionDetail is an execution together with its ordered steps
type ExecutionDetail struct {
	*execution.Execution
	Steps []*execution.Step `json:"steps"`
}

// PlaceNodeRequest adds a node to a saved graph, letting the graph pick its id
type PlaceNodeRequest struct {
	Type     graph.NodeType `json:"type" validate:"required"`
	Label    string         `json:"label"`
	Position graph.Position `json:"position"`
	Config   map[string]any `json:"config"`
}

// Validate checks the request's struct rules.
func (r *PlaceNodeRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// PurgeResponse reports how many executions were deleted
type PurgeResponse struct {
	SchemaID string `json:"schema_id"`
	Deleted  int    `json:"deleted"`
}
