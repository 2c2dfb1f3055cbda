package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/nodeflow/internal/core/values"
)

// StepStatus is the outcome of a single node visit.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// Step is the immutable trace record of one visited node.
type Step struct {
	ID              string         `json:"id"`
	ExecutionID     string         `json:"execution_id"`
	Seq             int            `json:"seq"`
	NodeID          string         `json:"node_id"`
	NodeType        string         `json:"node_type"`
	Status          StepStatus     `json:"status"`
	Port            string         `json:"port,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	ContextSnapshot map[string]any `json:"context_snapshot"`
	LogMessage      string         `json:"log_message,omitempty"`
}

// NewStep creates a step record with a fresh id.
func NewStep(executionID string, seq int, nodeID, nodeType string) *Step {
	return &Step{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Seq:         seq,
		NodeID:      nodeID,
		NodeType:    nodeType,
	}
}

// Validate ensures step integrity
func (s *Step) Validate() error {
	if s.ID == "" {
		return ErrInvalidStepID
	}
	if s.ExecutionID == "" {
		return ErrInvalidExecutionID
	}
	if s.Seq < 1 {
		return ErrInvalidSeq
	}
	if s.Status != StepSuccess && s.Status != StepError {
		return ErrInvalidStatus
	}
	return nil
}

// Clone returns a deep copy.
func (s *Step) Clone() *Step {
	cp := *s
	cp.ContextSnapshot = values.CloneMap(s.ContextSnapshot)
	return &cp
}
