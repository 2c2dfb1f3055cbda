package execution

import "errors"

var (
	// Record validation errors
	ErrInvalidExecutionID = errors.New("invalid execution ID")
	ErrInvalidSchemaID    = errors.New("invalid schema ID")
	ErrInvalidStepID      = errors.New("invalid step ID")
	ErrInvalidSeq         = errors.New("step sequence must start at 1")
	ErrInvalidStatus      = errors.New("invalid status")

	// Filter validation errors
	ErrInvalidLimit  = errors.New("limit cannot be negative")
	ErrInvalidOffset = errors.New("offset cannot be negative")

	// Persistence errors
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionExists   = errors.New("execution already exists")
	ErrStepExists        = errors.New("step already recorded")
)
