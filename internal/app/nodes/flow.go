package nodes

import (
	"context"

	"github.com/flowgraph/nodeflow/internal/core/expr"
	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// startKind marks the entry point. It has a single unconditional output.
type startKind struct{}

func (startKind) Descriptor() Descriptor {
	return Descriptor{
		Type:          graph.NodeTypeStart,
		Label:         "Start",
		Category:      CategoryFlow,
		Outputs:       []graph.Port{graph.PortOutput},
		DefaultConfig: map[string]any{},
		Active:        true,
	}
}

func (startKind) Step(context.Context, Input) (Result, error) {
	return Result{Port: graph.PortOutput, Output: map[string]any{}}, nil
}

// endKind terminates the run and decides its final status.
type endKind struct{}

type endConfig struct {
	Success bool   `mapstructure:"success"`
	Message string `mapstructure:"message"`
}

func (endKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeEnd,
		Label:    "End",
		Category: CategoryFlow,
		Outputs:  []graph.Port{},
		DefaultConfig: map[string]any{
			"success": true,
			"message": "Execution completed",
		},
		Active: true,
	}
}

func (endKind) Step(_ context.Context, in Input) (Result, error) {
	var cfg endConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	msg := expr.Resolve(cfg.Message, in.Vars)
	return Result{
		Output:     map[string]any{"success": cfg.Success, "message": msg},
		LogMessage: msg,
		Finish:     &Finish{Success: cfg.Success, Message: msg},
	}, nil
}

// conditionKind routes on a single comparison.
type conditionKind struct{}

type conditionConfig struct {
	Expression string `mapstructure:"expression"`
}

func (conditionKind) Descriptor() Descriptor {
	return Descriptor{
		Type:          graph.NodeTypeCondition,
		Label:         "Condition",
		Category:      CategoryFlow,
		Outputs:       []graph.Port{graph.PortTrue, graph.PortFalse},
		DefaultConfig: map[string]any{"expression": ""},
		Active:        true,
	}
}

func (conditionKind) Step(_ context.Context, in Input) (Result, error) {
	var cfg conditionConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	resolved := expr.Resolve(cfg.Expression, in.Vars)
	ok, err := expr.Evaluate(resolved)
	if err != nil {
		return Result{}, Fatalf("condition %q: %w", resolved, err)
	}

	port := graph.PortFalse
	if ok {
		port = graph.PortTrue
	}
	return Result{
		Port:   port,
		Output: map[string]any{"expression": resolved, "result": ok},
	}, nil
}
