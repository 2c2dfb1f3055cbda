package nodes

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flowgraph/nodeflow/internal/core/expr"
	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// logKind writes a resolved message to the service log. It never fails.
type logKind struct {
	logger *zap.Logger
}

type logConfig struct {
	Level   string `mapstructure:"level"`
	Message string `mapstructure:"message"`
}

func (logKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeLog,
		Label:    "Log",
		Category: CategoryLogic,
		Outputs:  []graph.Port{graph.PortOutput},
		DefaultConfig: map[string]any{
			"level":   "info",
			"message": "",
		},
		Active: true,
	}
}

func (k logKind) Step(_ context.Context, in Input) (Result, error) {
	var cfg logConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		// a log node never fails; fall back to what can be read
		cfg = logConfig{Level: "info"}
		if s, ok := in.Config["message"].(string); ok {
			cfg.Message = s
		}
	}

	level := parseLevel(cfg.Level)
	msg := expr.Resolve(cfg.Message, in.Vars)

	execID, _ := in.Vars.Lookup("execution.id")
	k.logger.Log(level, msg,
		zap.Any("execution_id", execID),
		zap.String("node_id", in.Node.ID),
	)

	return Result{
		Port:       graph.PortOutput,
		Output:     map[string]any{"level": level.String(), "message": msg},
		LogMessage: msg,
	}, nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
