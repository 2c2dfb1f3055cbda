package expr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidExpression = errors.New("invalid expression")

	ErrEmptyExpression     = fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	ErrNoOperator          = fmt.Errorf("%w: no comparison operator", ErrInvalidExpression)
	ErrUnsupportedOperator = fmt.Errorf("%w: only a single comparison is supported", ErrInvalidExpression)
	ErrNonNumericOperand   = fmt.Errorf("%w: ordering requires numeric operands", ErrInvalidExpression)

	ErrNotANumber = errors.New("value is not a number")
)
