package nodes

import (
	"context"
	"strings"

	"github.com/flowgraph/nodeflow/internal/core/graph"
)

var unitSeconds = map[string]float64{
	"seconds": 1,
	"minutes": 60,
	"hours":   60 * 60,
	"days":    24 * 60 * 60,
}

// sleepKind suspends the current execution only.
type sleepKind struct {
	clock Clock
}

type sleepConfig struct {
	Duration float64 `mapstructure:"duration"`
	Unit     string  `mapstructure:"unit"`
}

func (sleepKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeSleep,
		Label:    "Sleep",
		Category: CategoryTime,
		Outputs:  []graph.Port{graph.PortOutput},
		DefaultConfig: map[string]any{
			"duration": 60,
			"unit":     "seconds",
		},
		Active: true,
	}
}

func (k sleepKind) Step(ctx context.Context, in Input) (Result, error) {
	var cfg sleepConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	factor, ok := unitSeconds[strings.ToLower(strings.TrimSpace(cfg.Unit))]
	if !ok {
		return Result{}, Fatalf("%w: %q", ErrUnknownSleepUnit, cfg.Unit)
	}
	if cfg.Duration < 0 {
		return Result{}, Fatal(ErrNegativeDuration)
	}

	total := cfg.Duration * factor
	if err := Suspend(ctx, k.clock, seconds(total)); err != nil {
		return Result{}, Fatal(err)
	}
	return Result{
		Port:   graph.PortOutput,
		Output: map[string]any{"slept_seconds": total},
	}, nil
}
