// Package execution provides the execution and step records produced by the
// engine, plus the persistence contract for them.
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/nodeflow/internal/core/values"
)

// Status is the execution-level state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Outcome records why an execution stopped.
type Outcome string

const (
	OutcomeEnd       Outcome = "end"
	OutcomeDeadEnd   Outcome = "dead_end"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeStepLimit Outcome = "step_limit"
)

// Execution is one run of a graph against a trigger payload
// PRINCIPLES:
// - KISS: Simple struct with clear fields
// - SRP: Only responsible for run metadata; steps are stored separately
type Execution struct {
	ID             string         `json:"id"`
	SchemaID       string         `json:"schema_id"`
	GraphVersion   int            `json:"graph_version"`
	Status         Status         `json:"status"`
	Outcome        Outcome        `json:"outcome,omitempty"`
	Error          string         `json:"error,omitempty"`
	DebugMode      bool           `json:"debug_mode"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// New creates a pending execution with a fresh id.
func New(schemaID string, graphVersion int, payload map[string]any, debug bool) *Execution {
	return &Execution{
		ID:             uuid.NewString(),
		SchemaID:       schemaID,
		GraphVersion:   graphVersion,
		Status:         StatusPending,
		DebugMode:      debug,
		TriggerPayload: values.CloneMap(payload),
		StartedAt:      time.Now().UTC(),
	}
}

// Validate ensures execution integrity
func (e *Execution) Validate() error {
	if e.ID == "" {
		return ErrInvalidExecutionID
	}
	if e.SchemaID == "" {
		return ErrInvalidSchemaID
	}
	switch e.Status {
	case StatusPending, StatusRunning, StatusCompleted, StatusError:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// Finish moves the execution to a terminal status.
func (e *Execution) Finish(status Status, outcome Outcome, reason string, at time.Time) {
	e.Status = status
	e.Outcome = outcome
	e.Error = reason
	at = at.UTC()
	e.FinishedAt = &at
}

// Clone returns a deep copy.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.TriggerPayload = values.CloneMap(e.TriggerPayload)
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
