package nodes

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/values"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

// Registry maps node types to their Kind
// PRINCIPLES:
// - SRP: Handles only node type lookup and dispatch
// - OCP: Extensible through Register
type Registry struct {
	kinds map[graph.NodeType]Kind
	order []graph.NodeType
}

type options struct {
	logger    *zap.Logger
	clock     Clock
	http      HTTPConnector
	publisher QueuePublisher
}

// Option configures the default kinds.
type Option func(*options)

// WithLogger sets the logger used by log nodes and connector diagnostics.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock replaces the wall clock used for sleeps and retry delays.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithHTTPConnector sets the connector used by http_request nodes.
func WithHTTPConnector(c HTTPConnector) Option { return func(o *options) { o.http = c } }

// WithQueuePublisher activates rabbitmq_publish nodes.
func WithQueuePublisher(p QueuePublisher) Option { return func(o *options) { o.publisher = p } }

// NewRegistry creates a registry with every built-in kind registered.
func NewRegistry(opts ...Option) *Registry {
	o := options{logger: zap.NewNop(), clock: RealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	r := &Registry{kinds: make(map[graph.NodeType]Kind)}
	r.Register(startKind{})
	r.Register(endKind{})
	r.Register(logKind{logger: o.logger})
	r.Register(httpRequestKind{connector: o.http, clock: o.clock, logger: o.logger})
	r.Register(conditionKind{})
	r.Register(variableSetKind{})
	r.Register(sleepKind{clock: o.clock})
	r.Register(mathKind{})
	r.Register(rabbitMQPublishKind{publisher: o.publisher})
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(k Kind) {
	t := k.Descriptor().Type
	if _, exists := r.kinds[t]; !exists {
		r.order = append(r.order, t)
	}
	r.kinds[t] = k
}

// Lookup returns the kind for a node type.
func (r *Registry) Lookup(t graph.NodeType) (Kind, bool) {
	k, ok := r.kinds[t]
	return k, ok
}

// Describe implements graph.TypeResolver.
func (r *Registry) Describe(t graph.NodeType) (graph.TypeInfo, bool) {
	k, ok := r.kinds[t]
	if !ok {
		return graph.TypeInfo{}, false
	}
	d := k.Descriptor()
	return graph.TypeInfo{Outputs: d.Outputs, Active: d.Active}, true
}

// Catalog lists every registered type in registration order.
func (r *Registry) Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, t := range r.order {
		d := r.kinds[t].Descriptor()
		d.DefaultConfig = values.CloneMap(d.DefaultConfig)
		out = append(out, d)
	}
	return out
}

// Process runs one node: merges its config over the type defaults and calls
// the kind's step function. Every failure comes back as a *FatalError.
func (r *Registry) Process(ctx context.Context, node *graph.Node, vc vars.Context) (Result, error) {
	k, ok := r.kinds[node.Type]
	if !ok {
		return Result{}, Fatalf("%w: %s", ErrUnknownNodeType, node.Type)
	}
	cfg := values.Merge(k.Descriptor().DefaultConfig, node.Config)

	res, err := k.Step(ctx, Input{Node: node, Config: cfg, Vars: vc})
	if err != nil {
		var fe *FatalError
		if !errors.As(err, &fe) {
			fe = Fatal(err)
		}
		return Result{}, fe
	}
	return res, nil
}

// CanProcess reports whether a kind is registered for the node type.
func (r *Registry) CanProcess(t graph.NodeType) bool {
	_, ok := r.kinds[t]
	return ok
}
