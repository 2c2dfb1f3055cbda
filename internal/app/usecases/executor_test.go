package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/nodeflow/internal/adapters/repository/memory"
	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/core/vars"
)

type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now() }

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// gateClock never fires and signals every wait it is asked for.
type gateClock struct{ entered chan struct{} }

func (gateClock) Now() time.Time { return time.Now() }

func (c gateClock) After(time.Duration) <-chan time.Time {
	c.entered <- struct{}{}
	return make(chan time.Time)
}

type flakyHTTP struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyHTTP) Do(context.Context, nodes.HTTPRequest) (*nodes.HTTPResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("connection reset")
	}
	return &nodes.HTTPResponse{Status: 200, Data: map[string]any{"ok": true}}, nil
}

type harness struct {
	registry *nodes.Registry
	store    *memory.Store
	executor *DefaultGraphExecutor
}

func newHarness(registry *nodes.Registry, opts ...ExecutorOption) *harness {
	store := memory.DefaultStore()
	processor := NewDefaultNodeProcessor(registry, nil)
	return &harness{
		registry: registry,
		store:    store,
		executor: NewDefaultGraphExecutor(processor, NewDefaultEdgeRouter(), store, opts...),
	}
}

func (h *harness) run(t *testing.T, g *graph.Graph, seed vars.Seed) (*execution.Execution, []*execution.Step) {
	t.Helper()
	ctx := context.Background()
	g.Normalize(h.registry)
	require.NoError(t, g.Validate(h.registry))

	exec := execution.New(g.ID, g.Version, seed.Payload, false)
	require.NoError(t, h.store.Create(ctx, exec))

	final, err := h.executor.Execute(ctx, &Run{Graph: g, Execution: exec, Seed: seed})
	require.NoError(t, err)

	stored, err := h.store.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Status, stored.Status)

	steps, err := h.store.Steps(ctx, exec.ID)
	require.NoError(t, err)
	return final, steps
}

func node(id string, t graph.NodeType, cfg map[string]any) *graph.Node {
	return &graph.Node{ID: id, Type: t, Config: cfg}
}

func edge(source string, port graph.Port, target string) *graph.Edge {
	return &graph.Edge{ID: source + "-" + string(port), Source: source, SourcePort: port, Target: target}
}

func nodeIDs(steps []*execution.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.NodeID
	}
	return ids
}

func TestExecute_LinearGraph(t *testing.T) {
	h := newHarness(nodes.NewRegistry())
	g := &graph.Graph{
		ID: "linear",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("log", graph.NodeTypeLog, map[string]any{"message": "hello"}),
			node("end", graph.NodeTypeEnd, map[string]any{"success": true}),
		},
		Edges: []*graph.Edge{
			edge("start", graph.PortOutput, "log"),
			edge("log", graph.PortOutput, "end"),
		},
	}

	final, steps := h.run(t, g, vars.Seed{Payload: map[string]any{}})

	assert.Equal(t, execution.StatusCompleted, final.Status)
	assert.Equal(t, execution.OutcomeEnd, final.Outcome)
	assert.NotNil(t, final.FinishedAt)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"start", "log", "end"}, nodeIDs(steps))
	assert.Equal(t, "hello", steps[1].LogMessage)
	for _, s := range steps {
		assert.Equal(t, execution.StepSuccess, s.Status)
	}
}

func TestExecute_ConditionBranches(t *testing.T) {
	build := func() *graph.Graph {
		return &graph.Graph{
			ID: "branch",
			Nodes: []*graph.Node{
				node("start", graph.NodeTypeStart, nil),
				node("cond", graph.NodeTypeCondition, map[string]any{"expression": "{{variables.age}} > 18"}),
				node("adult", graph.NodeTypeEnd, map[string]any{"success": true}),
				node("minor", graph.NodeTypeEnd, map[string]any{"success": false, "message": "too young"}),
			},
			Edges: []*graph.Edge{
				edge("start", graph.PortOutput, "cond"),
				edge("cond", graph.PortTrue, "adult"),
				edge("cond", graph.PortFalse, "minor"),
			},
		}
	}

	tests := []struct {
		name       string
		age        any
		wantPath   []string
		wantStatus execution.Status
		wantError  string
	}{
		{"true branch", 20, []string{"start", "cond", "adult"}, execution.StatusCompleted, ""},
		{"false branch", 12, []string{"start", "cond", "minor"}, execution.StatusError, "too young"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(nodes.NewRegistry())
			final, steps := h.run(t, build(), vars.Seed{Variables: map[string]any{"age": tt.age}})
			assert.Equal(t, tt.wantPath, nodeIDs(steps))
			assert.Equal(t, tt.wantStatus, final.Status)
			assert.Equal(t, execution.OutcomeEnd, final.Outcome)
			assert.Equal(t, tt.wantError, final.Error)
		})
	}
}

func TestExecute_FatalNodeStopsWithoutPatch(t *testing.T) {
	h := newHarness(nodes.NewRegistry())
	g := &graph.Graph{
		ID: "fatal",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("div", graph.NodeTypeMath, map[string]any{
				"operation": "divide", "operand1": "10", "operand2": "0", "result_variable": "q",
			}),
			node("end", graph.NodeTypeEnd, nil),
		},
		Edges: []*graph.Edge{
			edge("start", graph.PortOutput, "div"),
			edge("div", graph.PortOutput, "end"),
		},
	}

	final, steps := h.run(t, g, vars.Seed{})

	assert.Equal(t, execution.StatusError, final.Status)
	assert.Equal(t, execution.OutcomeFatal, final.Outcome)
	assert.Contains(t, final.Error, "division by zero")
	require.Len(t, steps, 2)

	last := steps[1]
	assert.Equal(t, execution.StepError, last.Status)
	assert.Empty(t, last.Port)
	assert.Equal(t, final.Error, last.LogMessage)
	variables := last.ContextSnapshot["variables"].(map[string]any)
	assert.NotContains(t, variables, "q")
	assert.NotContains(t, last.ContextSnapshot["steps"].(map[string]any), "div")
}

func TestExecute_DeadEndCompletes(t *testing.T) {
	h := newHarness(nodes.NewRegistry())
	g := &graph.Graph{
		ID: "dead-end",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("cond", graph.NodeTypeCondition, map[string]any{"expression": "1 < 2"}),
			node("end", graph.NodeTypeEnd, nil),
		},
		Edges: []*graph.Edge{
			edge("start", graph.PortOutput, "cond"),
			edge("cond", graph.PortFalse, "end"),
		},
	}

	final, steps := h.run(t, g, vars.Seed{})

	assert.Equal(t, execution.StatusCompleted, final.Status)
	assert.Equal(t, execution.OutcomeDeadEnd, final.Outcome)
	assert.Empty(t, final.Error)
	assert.Equal(t, []string{"start", "cond"}, nodeIDs(steps))
	assert.Equal(t, string(graph.PortTrue), steps[1].Port)
}

func TestExecute_RetriedRequestIsOneStep(t *testing.T) {
	conn := &flakyHTTP{fails: 2}
	h := newHarness(nodes.NewRegistry(nodes.WithHTTPConnector(conn), nodes.WithClock(instantClock{})))
	g := &graph.Graph{
		ID: "retry",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("call", graph.NodeTypeHTTPRequest, map[string]any{
				"url":   "https://api.test/ping",
				"retry": map[string]any{"enabled": true, "max_attempts": 3, "delay": 1},
			}),
		},
		Edges: []*graph.Edge{edge("start", graph.PortOutput, "call")},
	}

	final, steps := h.run(t, g, vars.Seed{})

	assert.Equal(t, 3, conn.calls)
	require.Len(t, steps, 2)
	call := steps[1]
	assert.Equal(t, execution.StepSuccess, call.Status)
	assert.Equal(t, string(graph.PortSuccess), call.Port)
	output := call.ContextSnapshot["steps"].(map[string]any)["call"].(map[string]any)["output"].(map[string]any)
	assert.Equal(t, 3, output["attempts"])
	assert.Equal(t, execution.OutcomeDeadEnd, final.Outcome)
}

func TestExecute_StepsAreOrderedAndSnapshotsFrozen(t *testing.T) {
	h := newHarness(nodes.NewRegistry())
	g := &graph.Graph{
		ID: "counter",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("set", graph.NodeTypeVariableSet, map[string]any{"variable": "n", "value": "1"}),
			node("inc", graph.NodeTypeMath, map[string]any{"operation": "add", "operand1": "n", "operand2": "1", "result_variable": "n"}),
			node("end", graph.NodeTypeEnd, map[string]any{"message": "n={{variables.n}}"}),
		},
		Edges: []*graph.Edge{
			edge("start", graph.PortOutput, "set"),
			edge("set", graph.PortOutput, "inc"),
			edge("inc", graph.PortOutput, "end"),
		},
	}

	final, steps := h.run(t, g, vars.Seed{})
	assert.Equal(t, execution.StatusCompleted, final.Status)
	require.Len(t, steps, 4)

	for i, s := range steps {
		assert.Equal(t, i+1, s.Seq)
		assert.True(t, s.FinishedAt.After(s.StartedAt))
		if i > 0 {
			assert.True(t, s.StartedAt.After(steps[i-1].FinishedAt))
		}
	}

	assert.Equal(t, "1", steps[1].ContextSnapshot["variables"].(map[string]any)["n"])
	assert.Equal(t, float64(2), steps[2].ContextSnapshot["variables"].(map[string]any)["n"])
	assert.Equal(t, "n=2", steps[3].LogMessage)
	assert.Equal(t, final.ID, steps[0].ContextSnapshot["execution"].(map[string]any)["id"])
}

func TestExecute_StepLimit(t *testing.T) {
	h := newHarness(nodes.NewRegistry(), WithMaxSteps(5))
	g := &graph.Graph{
		ID: "loop",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("a", graph.NodeTypeLog, map[string]any{"message": "a"}),
			node("b", graph.NodeTypeLog, map[string]any{"message": "b"}),
		},
		Edges: []*graph.Edge{
			edge("start", graph.PortOutput, "a"),
			edge("a", graph.PortOutput, "b"),
			edge("b", graph.PortOutput, "a"),
		},
	}

	final, steps := h.run(t, g, vars.Seed{})

	assert.Equal(t, execution.StatusError, final.Status)
	assert.Equal(t, execution.OutcomeStepLimit, final.Outcome)
	assert.Len(t, steps, 5)
	assert.Equal(t, []string{"start", "a", "b", "a", "b"}, nodeIDs(steps))
}

func TestExecute_CancelDuringSleep(t *testing.T) {
	clock := gateClock{entered: make(chan struct{}, 1)}
	h := newHarness(nodes.NewRegistry(nodes.WithClock(clock)))
	g := &graph.Graph{
		ID: "sleepy",
		Nodes: []*graph.Node{
			node("start", graph.NodeTypeStart, nil),
			node("nap", graph.NodeTypeSleep, map[string]any{"duration": 1, "unit": "hours"}),
			node("end", graph.NodeTypeEnd, nil),
		},
		Edges: []*graph.Edge{
			edge("start", graph.PortOutput, "nap"),
			edge("nap", graph.PortOutput, "end"),
		},
	}
	ctx := context.Background()
	exec := execution.New(g.ID, 1, nil, false)
	require.NoError(t, h.store.Create(ctx, exec))

	type result struct {
		final *execution.Execution
		err   error
	}
	done := make(chan result, 1)
	go func() {
		final, err := h.executor.Execute(ctx, &Run{Graph: g, Execution: exec})
		done <- result{final, err}
	}()

	select {
	case <-clock.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sleep never started")
	}

	live, err := h.executor.GetStatus(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, live.Status)
	assert.Contains(t, h.executor.Active(), exec.ID)

	require.NoError(t, h.executor.Stop(ctx, exec.ID))

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop")
	}
	require.NoError(t, res.err)
	assert.Equal(t, execution.StatusError, res.final.Status)
	assert.Equal(t, execution.OutcomeCancelled, res.final.Outcome)
	assert.Equal(t, "cancelled", res.final.Error)

	steps, err := h.store.Steps(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, execution.StepError, steps[1].Status)
	assert.Equal(t, "cancelled", steps[1].LogMessage)

	_, err = h.executor.GetStatus(ctx, exec.ID)
	assert.ErrorIs(t, err, ErrExecutionNotActive)
	assert.ErrorIs(t, h.executor.Stop(ctx, exec.ID), ErrExecutionNotActive)
}

func TestExecute_CancelledBeforeStartRecordsNothing(t *testing.T) {
	h := newHarness(nodes.NewRegistry())
	g := &graph.Graph{
		ID:    "single",
		Nodes: []*graph.Node{node("start", graph.NodeTypeStart, nil)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := execution.New(g.ID, 1, nil, false)
	require.NoError(t, h.store.Create(context.Background(), exec))

	final, err := h.executor.Execute(ctx, &Run{Graph: g, Execution: exec})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeCancelled, final.Outcome)

	stored, err := h.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusError, stored.Status)

	steps, err := h.store.Steps(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) AppendStep(context.Context, *execution.Step) error { return f.err }

func TestExecute_StoreFailureIsReturned(t *testing.T) {
	boom := errors.New("disk full")
	store := failingStore{Store: memory.DefaultStore(), err: boom}
	executor := NewDefaultGraphExecutor(NewDefaultNodeProcessor(nodes.NewRegistry(), nil), nil, store)

	g := &graph.Graph{ID: "g", Nodes: []*graph.Node{node("start", graph.NodeTypeStart, nil)}}
	exec := execution.New(g.ID, 1, nil, false)
	require.NoError(t, store.Create(context.Background(), exec))

	final, err := executor.Execute(context.Background(), &Run{Graph: g, Execution: exec})
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, final)
	assert.Equal(t, execution.StatusError, final.Status)
}

func TestExecute_InvalidRun(t *testing.T) {
	executor := NewDefaultGraphExecutor(NewDefaultNodeProcessor(nil, nil), nil, memory.DefaultStore())

	_, err := executor.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRun)

	_, err = executor.Execute(context.Background(), &Run{
		Graph:     &graph.Graph{ID: "g", Nodes: []*graph.Node{node("log", graph.NodeTypeLog, nil)}},
		Execution: execution.New("g", 1, nil, false),
	})
	assert.ErrorIs(t, err, graph.ErrStructural)
}

func TestDefaultEdgeRouter_Next(t *testing.T) {
	g := &graph.Graph{
		Nodes: []*graph.Node{
			node("cond", graph.NodeTypeCondition, nil),
			node("yes", graph.NodeTypeEnd, nil),
		},
		Edges: []*graph.Edge{
			edge("cond", graph.PortTrue, "yes"),
			edge("cond", graph.PortFalse, "ghost"),
		},
	}
	r := NewDefaultEdgeRouter()
	cond := g.Nodes[0]

	next, err := r.Next(context.Background(), g, cond, graph.PortTrue)
	require.NoError(t, err)
	assert.Equal(t, "yes", next.ID)

	next, err = r.Next(context.Background(), g, cond, graph.PortError)
	require.NoError(t, err)
	assert.Nil(t, next)

	next, err = r.Next(context.Background(), g, cond, "")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = r.Next(context.Background(), g, cond, graph.PortFalse)
	assert.ErrorIs(t, err, graph.ErrTargetNodeNotFound)
}

func TestDefaultNodeProcessor_CanProcess(t *testing.T) {
	p := NewDefaultNodeProcessor(nodes.NewRegistry(), nil)
	assert.True(t, p.CanProcess(graph.NodeTypeSleep))
	assert.False(t, p.CanProcess("teleport"))
	assert.NotNil(t, p.Registry())
}
