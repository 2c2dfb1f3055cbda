package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/app/usecases"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

// ErrExecutionFinished is returned when cancelling a run that already ended.
var ErrExecutionFinished = errors.New("execution already finished")

// ExecutionService turns trigger requests into executions and answers
// history queries
// PRINCIPLES:
// - SRP: Owns the execution lifecycle around the executor
// - DIP: Depends on repository, store and executor interfaces
type ExecutionService struct {
	graphs   usecases.GraphRepository
	store    execution.Store
	executor usecases.GraphExecutor
	types    graph.TypeResolver
	logger   *zap.Logger

	// background runs derive from base so Close can stop them
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// cancel funcs of accepted background runs, registered before Trigger
	// returns so an early Cancel is not lost
	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// NewExecutionService creates a new execution service
func NewExecutionService(
	graphs usecases.GraphRepository,
	store execution.Store,
	executor usecases.GraphExecutor,
	types graph.TypeResolver,
	logger *zap.Logger,
) *ExecutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &ExecutionService{
		graphs:   graphs,
		store:    store,
		executor: executor,
		types:    types,
		logger:   logger,
		base:     base,
		cancel:   cancel,
		pending:  make(map[string]context.CancelFunc),
	}
}

// Trigger validates the request and its graph, records a pending execution
// and runs it in the background. Structural errors are returned before any
// record exists.
func (s *ExecutionService) Trigger(ctx context.Context, req *dto.TriggerRequest) (*execution.Execution, error) {
	run, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	accepted := run.Execution.Clone()
	id := run.Execution.ID

	runCtx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.pending[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.executor.Execute(runCtx, run); err != nil {
			s.logger.Error("execution failed to persist",
				zap.String("execution_id", run.Execution.ID),
				zap.Error(err),
			)
		}
	}()
	return accepted, nil
}

// RunSync is Trigger without the goroutine: it returns the terminal record.
func (s *ExecutionService) RunSync(ctx context.Context, req *dto.TriggerRequest) (*execution.Execution, error) {
	run, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, run)
}

func (s *ExecutionService) prepare(ctx context.Context, req *dto.TriggerRequest) (*usecases.Run, error) {
	if req == nil {
		return nil, dto.ErrInvalidRequest
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	stored, err := s.graphs.Get(ctx, req.SchemaID)
	if err != nil {
		return nil, err
	}

	// the run binds to its own copy of the graph
	snapshot := stored.Clone()
	snapshot.Normalize(s.types)
	if err := snapshot.Validate(s.types); err != nil {
		return nil, err
	}

	exec := execution.New(snapshot.ID, snapshot.Version, req.TriggerPayload, req.DebugMode)
	if err := s.store.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	s.logger.Debug("execution accepted",
		zap.String("execution_id", exec.ID),
		zap.String("schema_id", exec.SchemaID),
		zap.Bool("debug_mode", exec.DebugMode),
	)

	return &usecases.Run{
		Graph:     snapshot,
		Execution: exec,
		Seed: vars.Seed{
			Payload:   req.TriggerPayload,
			User:      req.User,
			Variables: req.Variables,
		},
	}, nil
}

// Get returns an execution record
func (s *ExecutionService) Get(ctx context.Context, id string) (*execution.Execution, error) {
	return s.store.Get(ctx, id)
}

// Steps returns an execution's steps ordered by seq
func (s *ExecutionService) Steps(ctx context.Context, id string) ([]*execution.Step, error) {
	return s.store.Steps(ctx, id)
}

// Detail returns an execution with its steps
func (s *ExecutionService) Detail(ctx context.Context, id string) (*dto.ExecutionDetail, error) {
	exec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.Steps(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ExecutionDetail{Execution: exec, Steps: steps}, nil
}

// List returns a graph's executions, newest first
func (s *ExecutionService) List(ctx context.Context, req dto.ListRequest) ([]*execution.Execution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, req.Filter())
}

// Purge deletes every execution of a graph and returns how many went
func (s *ExecutionService) Purge(ctx context.Context, schemaID string) (int, error) {
	if schemaID == "" {
		return 0, execution.ErrInvalidSchemaID
	}
	n, err := s.store.DeleteBySchema(ctx, schemaID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("executions purged", zap.String("schema_id", schemaID), zap.Int("deleted", n))
	return n, nil
}

// Cancel stops a running execution. It takes effect at the next node
// boundary or suspension.
func (s *ExecutionService) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, ok := s.pending[id]
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("execution cancel requested", zap.String("execution_id", id))
		return nil
	}

	err := s.executor.Stop(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, usecases.ErrExecutionNotActive) {
		return err
	}
	exec, gerr := s.store.Get(ctx, id)
	if gerr != nil {
		return gerr
	}
	if exec.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrExecutionFinished, id)
	}
	return err
}

// Wait blocks until every background run has finished.
func (s *ExecutionService) Wait() {
	s.wg.Wait()
}

// Close cancels background runs and waits for them to record their outcome.
func (s *ExecutionService) Close() {
	s.cancel()
	s.wg.Wait()
}
