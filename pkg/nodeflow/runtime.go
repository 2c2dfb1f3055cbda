package nodeflow

import (
	"context"

	"go.uber.org/zap"

	graphrepo "github.com/flowgraph/nodeflow/internal/adapters/repository/graph"
	"github.com/flowgraph/nodeflow/internal/adapters/repository/memory"
	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/app/services"
	"github.com/flowgraph/nodeflow/internal/app/usecases"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	coregraph "github.com/flowgraph/nodeflow/internal/core/graph"
)

// Re-exported graph types
type (
	Graph    = coregraph.Graph
	Node     = coregraph.Node
	Edge     = coregraph.Edge
	NodeType = coregraph.NodeType
	Port     = coregraph.Port
	Position = coregraph.Position
)

// Re-exported execution types
type (
	Execution = execution.Execution
	Step      = execution.Step
)

// Connector contracts for http_request and rabbitmq_publish nodes
type (
	HTTPConnector  = nodes.HTTPConnector
	QueuePublisher = nodes.QueuePublisher
)

// Node types
const (
	NodeTypeStart           = coregraph.NodeTypeStart
	NodeTypeEnd             = coregraph.NodeTypeEnd
	NodeTypeLog             = coregraph.NodeTypeLog
	NodeTypeHTTPRequest     = coregraph.NodeTypeHTTPRequest
	NodeTypeCondition       = coregraph.NodeTypeCondition
	NodeTypeVariableSet     = coregraph.NodeTypeVariableSet
	NodeTypeSleep           = coregraph.NodeTypeSleep
	NodeTypeMath            = coregraph.NodeTypeMath
	NodeTypeRabbitMQPublish = coregraph.NodeTypeRabbitMQPublish
)

// Ports
const (
	PortOutput  = coregraph.PortOutput
	PortSuccess = coregraph.PortSuccess
	PortError   = coregraph.PortError
	PortTrue    = coregraph.PortTrue
	PortFalse   = coregraph.PortFalse
)

type config struct {
	nodeOpts []nodes.Option
	execOpts []usecases.ExecutorOption
	store    execution.Store
	logger   *zap.Logger
}

// Option configures a Runtime
type Option func(*config)

// WithLogger routes log nodes and engine diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
		c.nodeOpts = append(c.nodeOpts, nodes.WithLogger(l))
		c.execOpts = append(c.execOpts, usecases.WithExecutorLogger(l))
	}
}

// WithHTTPConnector enables http_request nodes.
func WithHTTPConnector(h HTTPConnector) Option {
	return func(c *config) { c.nodeOpts = append(c.nodeOpts, nodes.WithHTTPConnector(h)) }
}

// WithQueuePublisher enables rabbitmq_publish nodes.
func WithQueuePublisher(p QueuePublisher) Option {
	return func(c *config) { c.nodeOpts = append(c.nodeOpts, nodes.WithQueuePublisher(p)) }
}

// WithMaxSteps bounds the number of steps per execution.
func WithMaxSteps(n int) Option {
	return func(c *config) { c.execOpts = append(c.execOpts, usecases.WithMaxSteps(n)) }
}

// WithStore replaces the in-memory execution history.
func WithStore(s execution.Store) Option {
	return func(c *config) { c.store = s }
}

// Runtime wires a registry, graph repository, history store and executor.
// The default runtime is fully in-memory and suits local use and tests.
type Runtime struct {
	registry *nodes.Registry
	graphs   *services.GraphService
	execs    *services.ExecutionService
}

// NewRuntime constructs a runtime.
func NewRuntime(opts ...Option) *Runtime {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.DefaultStore()
	}

	registry := nodes.NewRegistry(cfg.nodeOpts...)
	repo := graphrepo.NewInMemoryGraphRepository()
	executor := usecases.NewDefaultGraphExecutor(
		usecases.NewDefaultNodeProcessor(registry, cfg.logger),
		usecases.NewDefaultEdgeRouter(),
		cfg.store,
		cfg.execOpts...,
	)
	return &Runtime{
		registry: registry,
		graphs:   services.NewGraphService(repo, registry),
		execs:    services.NewExecutionService(repo, cfg.store, executor, registry, cfg.logger),
	}
}

// SaveGraph stores g and returns it with its new version.
func (rt *Runtime) SaveGraph(ctx context.Context, g *Graph) (*Graph, error) {
	return rt.graphs.Save(ctx, g)
}

// Validate reports the first structural problem of g.
func (rt *Runtime) Validate(g *Graph) error {
	return rt.graphs.Validate(g)
}

// Run executes a saved graph synchronously and returns the terminal record.
func (rt *Runtime) Run(ctx context.Context, schemaID string, payload, variables map[string]any) (*Execution, error) {
	return rt.execs.RunSync(ctx, &dto.TriggerRequest{
		SchemaID:       schemaID,
		TriggerPayload: payload,
		Variables:      variables,
	})
}

// Steps returns an execution's steps ordered by seq.
func (rt *Runtime) Steps(ctx context.Context, executionID string) ([]*Step, error) {
	return rt.execs.Steps(ctx, executionID)
}

// Builder starts a new graph with the given id.
func (rt *Runtime) Builder(id string) *Builder {
	return &Builder{rt: rt, g: &Graph{ID: id}}
}

// Close stops background work.
func (rt *Runtime) Close() {
	rt.execs.Close()
}
