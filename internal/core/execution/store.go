package execution

import "context"

// Store persists executions and their step traces.
// PRINCIPLES:
// - DIP: Core domain depends on interface, not implementations
// - SRP: Single responsibility - execution history persistence
type Store interface {
	// Create persists a new execution record
	Create(ctx context.Context, e *Execution) error

	// Update overwrites the mutable fields of an execution (status, outcome, error, finished_at)
	Update(ctx context.Context, e *Execution) error

	// AppendStep adds a step to an execution's trace. Steps are never rewritten.
	AppendStep(ctx context.Context, s *Step) error

	// Get retrieves an execution by ID
	Get(ctx context.Context, id string) (*Execution, error)

	// Steps returns an execution's steps ordered by Seq
	Steps(ctx context.Context, executionID string) ([]*Step, error)

	// List returns executions matching the filter, newest first
	List(ctx context.Context, filter Filter) ([]*Execution, error)

	// DeleteBySchema removes every execution (and step) of a graph
	DeleteBySchema(ctx context.Context, schemaID string) (int, error)
}

// Filter for execution queries
type Filter struct {
	SchemaID string `json:"schema_id,omitempty"`
	Status   Status `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Validate ensures filter parameters are valid
func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return ErrInvalidLimit
	}
	if f.Offset < 0 {
		return ErrInvalidOffset
	}
	return nil
}
