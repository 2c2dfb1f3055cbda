package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/adapters/connector/httpconn"
	"github.com/flowgraph/nodeflow/internal/adapters/connector/rabbitmq"
	graphrepo "github.com/flowgraph/nodeflow/internal/adapters/repository/graph"
	"github.com/flowgraph/nodeflow/internal/adapters/repository/memory"
	"github.com/flowgraph/nodeflow/internal/adapters/repository/postgres"
	"github.com/flowgraph/nodeflow/internal/adapters/repository/sqlite"
	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/app/services"
	"github.com/flowgraph/nodeflow/internal/app/usecases"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/infrastructure/config"
	"github.com/flowgraph/nodeflow/pkg/serialization"
)

// app is one process worth of wired services.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *nodes.Registry
	graphs   *services.GraphService
	execs    *services.ExecutionService
	conn     *rabbitmq.Connection
	store    execution.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	opts := []nodes.Option{
		nodes.WithLogger(logger),
		nodes.WithHTTPConnector(httpconn.New(cfg.Engine.HTTPTimeout, httpconn.WithLogger(logger))),
	}
	if cfg.RabbitMQ.Enabled() {
		conn, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.ReconnectDelay, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.conn = conn
		if cfg.RabbitMQ.PublishNode {
			opts = append(opts, nodes.WithQueuePublisher(rabbitmq.NewPublisher(conn, logger)))
		}
	}

	a.registry = nodes.NewRegistry(opts...)
	repo := graphrepo.NewInMemoryGraphRepository()
	executor := usecases.NewDefaultGraphExecutor(
		usecases.NewDefaultNodeProcessor(a.registry, logger),
		usecases.NewDefaultEdgeRouter(),
		store,
		usecases.WithMaxSteps(cfg.Engine.MaxSteps),
		usecases.WithExecutorLogger(logger),
	)
	a.graphs = services.NewGraphService(repo, a.registry)
	a.execs = services.NewExecutionService(repo, store, executor, a.registry, logger)

	logger.Info("nodeflow ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("rabbitmq", a.conn != nil),
		zap.Int("max_steps", cfg.Engine.MaxSteps),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (execution.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return memory.NewStore(memory.Config{Retention: cfg.Retention}), nil
	}
	serializer, err := serialization.Parse(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("storage codec: %w", err)
	}
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN, serializer)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, serializer)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// consumer returns the trigger consumer, or nil without a broker.
func (a *app) consumer() *rabbitmq.TriggerConsumer {
	if a.conn == nil {
		return nil
	}
	return rabbitmq.NewTriggerConsumer(a.conn, a.execs, a.cfg.RabbitMQ.TriggerQueue, a.logger)
}

// Close stops running executions, then releases the broker and the store.
func (a *app) Close() error {
	if a.execs != nil {
		a.execs.Close()
	}
	var errs []error
	if a.conn != nil {
		errs = append(errs, a.conn.Close())
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
