package nodes

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled          = errors.New("cancelled")
	ErrUnknownNodeType    = errors.New("unknown node type")
	ErrInvalidConfig      = errors.New("invalid node config")
	ErrConnectorMissing   = errors.New("connector not configured")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrModuloByZero       = errors.New("modulo by zero")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrNonFiniteResult    = errors.New("result is not a finite number")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrMissingVariable    = errors.New("variable name is required")
	ErrNegativeDuration   = errors.New("duration cannot be negative")
	ErrUnknownSleepUnit   = errors.New("unknown sleep unit")
	ErrMissingDestination = errors.New("queue or exchange is required")
	ErrMissingURL         = errors.New("url is required")
)

// FatalError ends the owning execution. Reason becomes the step's log message.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string { return e.Reason }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError.
func Fatal(err error) *FatalError {
	return &FatalError{Reason: err.Error(), Err: err}
}

// Fatalf builds a FatalError; %w verbs are honoured.
func Fatalf(format string, args ...any) *FatalError {
	return Fatal(fmt.Errorf(format, args...))
}
