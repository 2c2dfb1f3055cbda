package expr

import (
	"fmt"
	"strings"
)

// Operator is one of the supported comparison operators.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
)

// Two-character operators first so ">=" is not read as ">".
var operators = []Operator{OpGTE, OpLTE, OpEQ, OpNEQ, OpGT, OpLT}

// Comparison is a parsed "<left> <op> <right>" expression.
type Comparison struct {
	Left  string
	Op    Operator
	Right string
}

// Parse splits an already-resolved expression into a Comparison.
func Parse(expression string) (Comparison, error) {
	s := strings.TrimSpace(expression)
	if s == "" {
		return Comparison{}, ErrEmptyExpression
	}
	if strings.Contains(s, "&&") || strings.Contains(s, "||") {
		return Comparison{}, fmt.Errorf("%w: %q", ErrUnsupportedOperator, s)
	}

	pos, op := findOperator(s)
	if pos < 0 {
		return Comparison{}, fmt.Errorf("%w: %q", ErrNoOperator, s)
	}

	rest := s[pos+len(op):]
	if i, _ := findOperator(rest); i >= 0 {
		return Comparison{}, fmt.Errorf("%w: %q", ErrUnsupportedOperator, s)
	}
	left := unquote(strings.TrimSpace(s[:pos]))
	right := unquote(strings.TrimSpace(rest))
	return Comparison{Left: left, Op: op, Right: right}, nil
}

// Evaluate parses and evaluates a single comparison. Numeric comparison is
// tried first; otherwise only == and != are allowed, as string comparisons.
// The bare literals "true" and "false" are accepted as well.
func Evaluate(expression string) (bool, error) {
	switch strings.TrimSpace(expression) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	c, err := Parse(expression)
	if err != nil {
		return false, err
	}
	return c.Eval()
}

// Eval evaluates the comparison.
func (c Comparison) Eval() (bool, error) {
	l, lerr := ToNumber(c.Left)
	r, rerr := ToNumber(c.Right)
	if lerr == nil && rerr == nil {
		switch c.Op {
		case OpGT:
			return l > r, nil
		case OpLT:
			return l < r, nil
		case OpGTE:
			return l >= r, nil
		case OpLTE:
			return l <= r, nil
		case OpEQ:
			return l == r, nil
		case OpNEQ:
			return l != r, nil
		}
	}

	switch c.Op {
	case OpEQ:
		return c.Left == c.Right, nil
	case OpNEQ:
		return c.Left != c.Right, nil
	}
	return false, fmt.Errorf("%w: %q %s %q", ErrNonNumericOperand, c.Left, c.Op, c.Right)
}

// findOperator returns the position of the first operator outside quotes,
// or -1 when there is none.
func findOperator(s string) (int, Operator) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			continue
		case c == '"' || c == '\'':
			quote = c
			continue
		}
		for _, op := range operators {
			if strings.HasPrefix(s[i:], string(op)) {
				return i, op
			}
		}
	}
	return -1, ""
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}
