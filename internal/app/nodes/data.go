package nodes

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/flowgraph/nodeflow/internal/core/expr"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

// variableSetKind writes variables.<variable>.
type variableSetKind struct{}

type variableSetConfig struct {
	Variable string `mapstructure:"variable"`
	Value    any    `mapstructure:"value"`
}

func (variableSetKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeVariableSet,
		Label:    "Set Variable",
		Category: CategoryData,
		Outputs:  []graph.Port{graph.PortOutput},
		DefaultConfig: map[string]any{
			"variable": "",
			"value":    "",
		},
		Active: true,
	}
}

func (variableSetKind) Step(_ context.Context, in Input) (Result, error) {
	var cfg variableSetConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	name := strings.TrimSpace(expr.Resolve(cfg.Variable, in.Vars))
	if name == "" {
		return Result{}, Fatal(ErrMissingVariable)
	}
	value := expr.ResolveValue(cfg.Value, in.Vars)

	return Result{
		Port:      graph.PortOutput,
		Output:    map[string]any{"variable": name, "value": value},
		Variables: map[string]any{name: value},
	}, nil
}

// mathKind applies one arithmetic operation to two operands.
type mathKind struct{}

type mathConfig struct {
	Operation      string `mapstructure:"operation"`
	Operand1       any    `mapstructure:"operand1"`
	Operand2       any    `mapstructure:"operand2"`
	ResultVariable string `mapstructure:"result_variable"`
}

func (mathKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeMath,
		Label:    "Math",
		Category: CategoryData,
		Outputs:  []graph.Port{graph.PortOutput},
		DefaultConfig: map[string]any{
			"operation":       "add",
			"operand1":        "",
			"operand2":        "",
			"result_variable": "",
		},
		Active: true,
	}
}

func (mathKind) Step(_ context.Context, in Input) (Result, error) {
	var cfg mathConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	target := strings.TrimSpace(cfg.ResultVariable)
	if target == "" {
		return Result{}, Fatalf("result_variable: %w", ErrMissingVariable)
	}

	a, err := operand(cfg.Operand1, in.Vars)
	if err != nil {
		return Result{}, Fatalf("operand1: %w", err)
	}
	b, err := operand(cfg.Operand2, in.Vars)
	if err != nil {
		return Result{}, Fatalf("operand2: %w", err)
	}

	op := strings.ToLower(strings.TrimSpace(cfg.Operation))
	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return Result{}, Fatal(ErrDivisionByZero)
		}
		result = a / b
	case "modulo":
		if b == 0 {
			return Result{}, Fatal(ErrModuloByZero)
		}
		result = math.Mod(a, b)
	default:
		return Result{}, Fatalf("%w: %q", ErrUnknownOperation, cfg.Operation)
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return Result{}, Fatalf("%s: %w", op, ErrNonFiniteResult)
	}

	return Result{
		Port:      graph.PortOutput,
		Output:    map[string]any{"operation": op, "result": result},
		Variables: map[string]any{target: result},
	}, nil
}

// operand resolves templates, then lets a bare name stand for the variable of
// that name, then coerces to a number.
func operand(raw any, vc vars.Context) (float64, error) {
	v := raw
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		switch {
		case strings.Contains(s, "{{"):
			v = expr.Resolve(s, vc)
		case s != "":
			if _, numErr := expr.ToNumber(s); numErr != nil {
				if named, found := vc.Variable(s); found {
					v = named
				}
			}
		}
	}
	n, err := expr.ToNumber(v)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", expr.Format(v), err)
	}
	return n, nil
}
