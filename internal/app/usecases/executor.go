package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/values"
	"github.com/flowgraph/nodeflow/internal/core/vars"
	"github.com/flowgraph/nodeflow/internal/infrastructure/metrics"
)

// DefaultMaxSteps bounds the number of node visits in one execution.
const DefaultMaxSteps = 1000

var (
	ErrInvalidRun         = errors.New("run requires a graph and an execution")
	ErrExecutionNotActive = errors.New("execution is not running")
)

// DefaultGraphExecutor implements the GraphExecutor interface
// PRINCIPLES:
// - KISS: One node at a time, following edges from start
// - SRP: Focuses only on graph execution orchestration
type DefaultGraphExecutor struct {
	processor  NodeProcessor
	router     EdgeRouter
	store      execution.Store
	clock      nodes.Clock
	logger     *zap.Logger
	maxSteps   int
	executions map[string]*activeRun
	mu         sync.RWMutex
}

type activeRun struct {
	exec   *execution.Execution
	cancel context.CancelFunc
}

// ExecutorOption configures a DefaultGraphExecutor.
type ExecutorOption func(*DefaultGraphExecutor)

// WithMaxSteps overrides DefaultMaxSteps. Non-positive values are ignored.
func WithMaxSteps(n int) ExecutorOption {
	return func(e *DefaultGraphExecutor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *DefaultGraphExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExecutorClock replaces the clock used for step timestamps.
func WithExecutorClock(c nodes.Clock) ExecutorOption {
	return func(e *DefaultGraphExecutor) {
		if c != nil {
			e.clock = c
		}
	}
}

// NewDefaultGraphExecutor creates a new graph executor with dependencies
func NewDefaultGraphExecutor(processor NodeProcessor, router EdgeRouter, store execution.Store, opts ...ExecutorOption) *DefaultGraphExecutor {
	e := &DefaultGraphExecutor{
		processor:  processor,
		router:     router,
		store:      store,
		clock:      nodes.RealClock(),
		logger:     zap.NewNop(),
		maxSteps:   DefaultMaxSteps,
		executions: make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.router == nil {
		e.router = NewDefaultEdgeRouter()
	}
	return e
}

// Execute drives one execution from the start node to a terminal status.
// Node failures end the execution and are recorded, not returned; the only
// returned errors come from the store.
func (e *DefaultGraphExecutor) Execute(ctx context.Context, run *Run) (*execution.Execution, error) {
	if run == nil || run.Graph == nil || run.Execution == nil {
		return nil, ErrInvalidRun
	}
	start, ok := run.Graph.StartNode()
	if !ok {
		return nil, &graph.StructuralError{Kind: graph.KindMissingStart}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// history writes outlive cancellation of the run itself
	persistCtx := context.WithoutCancel(ctx)

	exec := run.Execution
	e.mu.Lock()
	if _, exists := e.executions[exec.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", execution.ErrExecutionExists, exec.ID)
	}
	exec.Status = execution.StatusRunning
	e.executions[exec.ID] = &activeRun{exec: exec, cancel: cancel}
	started := exec.Clone()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.executions, exec.ID)
		e.mu.Unlock()
	}()

	metrics.ExecutionStarted()
	log := e.logger.With(
		zap.String("execution_id", exec.ID),
		zap.String("schema_id", exec.SchemaID),
	)
	log.Info("execution started", zap.Int("graph_version", exec.GraphVersion))

	if err := e.store.Update(persistCtx, started); err != nil {
		log.Error("persist execution failed", zap.Error(err))
		final, _ := e.finish(persistCtx, log, exec, execution.StatusError, execution.OutcomeFatal, err.Error())
		return final, fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}

	vc := vars.New(seedFor(run))
	stamps := stamper{clock: e.clock}
	current := start
	seq := 0

	for {
		if runCtx.Err() != nil {
			return e.finish(persistCtx, log, exec, execution.StatusError, execution.OutcomeCancelled, nodes.ErrCancelled.Error())
		}
		if seq >= e.maxSteps {
			reason := fmt.Sprintf("step limit of %d exceeded", e.maxSteps)
			return e.finish(persistCtx, log, exec, execution.StatusError, execution.OutcomeStepLimit, reason)
		}
		seq++

		step := execution.NewStep(exec.ID, seq, current.ID, string(current.Type))
		step.StartedAt = stamps.next()
		res, err := e.processor.Process(runCtx, current, vc)
		step.FinishedAt = stamps.next()

		if err != nil {
			outcome := execution.OutcomeFatal
			reason := err.Error()
			if errors.Is(err, nodes.ErrCancelled) {
				outcome = execution.OutcomeCancelled
				reason = nodes.ErrCancelled.Error()
			}
			step.Status = execution.StepError
			step.ContextSnapshot = vc.Snapshot()
			step.LogMessage = reason
			if perr := e.appendStep(persistCtx, log, exec, step); perr != nil {
				return e.abort(persistCtx, log, exec, perr)
			}
			return e.finish(persistCtx, log, exec, execution.StatusError, outcome, reason)
		}

		vc = vc.Apply(current.ID, res.Patch())
		step.Status = execution.StepSuccess
		step.Port = string(res.Port)
		step.ContextSnapshot = vc.Snapshot()
		step.LogMessage = res.LogMessage
		if perr := e.appendStep(persistCtx, log, exec, step); perr != nil {
			return e.abort(persistCtx, log, exec, perr)
		}

		if res.Finish != nil {
			if res.Finish.Success {
				return e.finish(persistCtx, log, exec, execution.StatusCompleted, execution.OutcomeEnd, "")
			}
			return e.finish(persistCtx, log, exec, execution.StatusError, execution.OutcomeEnd, res.Finish.Message)
		}

		next, err := e.router.Next(runCtx, run.Graph, current, res.Port)
		if err != nil {
			return e.finish(persistCtx, log, exec, execution.StatusError, execution.OutcomeFatal, err.Error())
		}
		if next == nil {
			log.Debug("no edge for port, stopping", zap.String("node_id", current.ID), zap.String("port", string(res.Port)))
			return e.finish(persistCtx, log, exec, execution.StatusCompleted, execution.OutcomeDeadEnd, "")
		}
		current = next
	}
}

func (e *DefaultGraphExecutor) appendStep(ctx context.Context, log *zap.Logger, exec *execution.Execution, step *execution.Step) error {
	metrics.StepRecorded(step.NodeType, step.Status == execution.StepError)
	if exec.DebugMode {
		log.Debug("step",
			zap.Int("seq", step.Seq),
			zap.String("node_id", step.NodeID),
			zap.String("node_type", step.NodeType),
			zap.String("status", string(step.Status)),
			zap.String("port", step.Port),
			zap.String("log_message", step.LogMessage),
		)
	}
	if err := e.store.AppendStep(ctx, step); err != nil {
		return fmt.Errorf("append step %d of %s: %w", step.Seq, exec.ID, err)
	}
	return nil
}

// abort ends the execution after a store failure and reports that failure.
func (e *DefaultGraphExecutor) abort(ctx context.Context, log *zap.Logger, exec *execution.Execution, cause error) (*execution.Execution, error) {
	log.Error("persist step failed", zap.Error(cause))
	final, _ := e.finish(ctx, log, exec, execution.StatusError, execution.OutcomeFatal, cause.Error())
	return final, cause
}

func (e *DefaultGraphExecutor) finish(
	ctx context.Context,
	log *zap.Logger,
	exec *execution.Execution,
	status execution.Status,
	outcome execution.Outcome,
	reason string,
) (*execution.Execution, error) {
	e.mu.Lock()
	exec.Finish(status, outcome, reason, e.clock.Now())
	final := exec.Clone()
	e.mu.Unlock()

	metrics.ExecutionFinished(string(status))
	fields := []zap.Field{zap.String("status", string(status)), zap.String("outcome", string(outcome))}
	if reason != "" {
		fields = append(fields, zap.String("error", reason))
	}
	log.Info("execution finished", fields...)

	if err := e.store.Update(ctx, final); err != nil {
		log.Error("persist execution failed", zap.Error(err))
		return final, fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}
	return final, nil
}

// Stop cancels a running execution. It takes effect at the next node
// boundary or suspension.
func (e *DefaultGraphExecutor) Stop(_ context.Context, executionID string) error {
	e.mu.RLock()
	ar, exists := e.executions[executionID]
	e.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrExecutionNotActive, executionID)
	}
	ar.cancel()
	return nil
}

// GetStatus returns the current status of an execution
func (e *DefaultGraphExecutor) GetStatus(_ context.Context, executionID string) (*execution.Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ar, exists := e.executions[executionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotActive, executionID)
	}
	return ar.exec.Clone(), nil
}

// Active returns the ids of running executions.
func (e *DefaultGraphExecutor) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.executions))
	for id := range e.executions {
		ids = append(ids, id)
	}
	return ids
}

// seedFor fills the execution section with the run's identity.
func seedFor(run *Run) vars.Seed {
	seed := run.Seed
	meta := values.CloneMap(seed.Execution)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["id"] = run.Execution.ID
	meta["schema_id"] = run.Execution.SchemaID
	meta["started_at"] = run.Execution.StartedAt.Format(time.RFC3339Nano)
	seed.Execution = meta
	if seed.Payload == nil {
		seed.Payload = run.Execution.TriggerPayload
	}
	return seed
}

// stamper hands out strictly increasing timestamps.
type stamper struct {
	clock nodes.Clock
	last  time.Time
}

func (s *stamper) next() time.Time {
	now := s.clock.Now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}
