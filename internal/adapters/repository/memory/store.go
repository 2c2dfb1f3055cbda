// Package memory provides an in-process execution history store
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowgraph/nodeflow/internal/core/execution"
)

// Store implements execution.Store with thread-safe in-memory storage
// PRINCIPLES:
// - KISS: Simple maps guarded by one RWMutex
// - SRP: Single responsibility for in-memory history
// - DIP: Implements execution.Store interface
type Store struct {
	mu         sync.RWMutex
	executions map[string]*execution.Execution
	steps      map[string][]*execution.Step
	stepIDs    map[string]struct{}

	// Retention of finished executions. Zero keeps them forever.
	retention     time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupOnce   sync.Once
}

// Config holds configuration for Store
type Config struct {
	Retention       time.Duration // How long finished executions are kept
	CleanupInterval time.Duration // How often expired executions are purged
}

// NewStore creates a new in-memory execution store
func NewStore(config Config) *Store {
	s := &Store{
		executions:  make(map[string]*execution.Execution),
		steps:       make(map[string][]*execution.Step),
		stepIDs:     make(map[string]struct{}),
		retention:   config.Retention,
		stopCleanup: make(chan struct{}),
	}
	if s.retention > 0 {
		if config.CleanupInterval <= 0 {
			config.CleanupInterval = time.Minute
		}
		s.startCleanup(config.CleanupInterval)
	}
	return s
}

// DefaultStore creates a Store that never expires records.
func DefaultStore() *Store {
	return NewStore(Config{})
}

// Create persists a new execution record
func (s *Store) Create(_ context.Context, e *execution.Execution) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("execution validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; exists {
		return fmt.Errorf("%w: %s", execution.ErrExecutionExists, e.ID)
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// Update overwrites an existing execution record
func (s *Store) Update(_ context.Context, e *execution.Execution) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("execution validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; !exists {
		return fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, e.ID)
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// AppendStep adds a step to an execution's trace
func (s *Store) AppendStep(_ context.Context, step *execution.Step) error {
	if err := step.Validate(); err != nil {
		return fmt.Errorf("step validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[step.ExecutionID]; !exists {
		return fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, step.ExecutionID)
	}
	if _, exists := s.stepIDs[step.ID]; exists {
		return fmt.Errorf("%w: %s", execution.ErrStepExists, step.ID)
	}
	s.stepIDs[step.ID] = struct{}{}
	s.steps[step.ExecutionID] = append(s.steps[step.ExecutionID], step.Clone())
	return nil
}

// Get retrieves an execution by ID
func (s *Store) Get(_ context.Context, id string) (*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.executions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, id)
	}
	return e.Clone(), nil
}

// Steps returns an execution's steps ordered by Seq
func (s *Store) Steps(_ context.Context, executionID string) ([]*execution.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.executions[executionID]; !exists {
		return nil, fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, executionID)
	}
	stored := s.steps[executionID]
	out := make([]*execution.Step, len(stored))
	for i, step := range stored {
		out[i] = step.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// List returns executions matching the filter, newest first
func (s *Store) List(_ context.Context, filter execution.Filter) ([]*execution.Execution, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}

	s.mu.RLock()
	matched := make([]*execution.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		if filter.SchemaID != "" && e.SchemaID != filter.SchemaID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		matched = append(matched, e.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if filter.Offset >= len(matched) {
		return []*execution.Execution{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// DeleteBySchema removes every execution (and step) of a graph
func (s *Store) DeleteBySchema(_ context.Context, schemaID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.executions {
		if e.SchemaID == schemaID {
			s.delete(id)
			n++
		}
	}
	return n, nil
}

// Close stops the cleanup goroutine and releases resources
func (s *Store) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}
	})
	return nil
}

// startCleanup starts the cleanup goroutine for expired executions
func (s *Store) startCleanup(interval time.Duration) {
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupExpired(time.Now())
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

// cleanupExpired drops finished executions older than the retention window.
// Running executions are never expired.
func (s *Store) cleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.executions {
		if e.FinishedAt == nil || !e.Status.Terminal() {
			continue
		}
		if now.Sub(*e.FinishedAt) > s.retention {
			s.delete(id)
			n++
		}
	}
	return n
}

// delete must be called with mu held.
func (s *Store) delete(id string) {
	for _, step := range s.steps[id] {
		delete(s.stepIDs, step.ID)
	}
	delete(s.steps, id)
	delete(s.executions, id)
}
