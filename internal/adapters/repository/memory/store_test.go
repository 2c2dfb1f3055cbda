package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/nodeflow/internal/core/execution"
)

func newExecution(schemaID string, startedAt time.Time) *execution.Execution {
	e := execution.New(schemaID, 1, map[string]any{"k": "v"}, false)
	e.StartedAt = startedAt
	return e
}

func TestStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := DefaultStore()
	defer func() { _ = store.Close() }()

	e := newExecution("schema-1", time.Now())

	t.Run("Create execution", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, e))
		assert.ErrorIs(t, store.Create(ctx, e), execution.ErrExecutionExists)
	})

	t.Run("Get returns a copy", func(t *testing.T) {
		got, err := store.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.SchemaID, got.SchemaID)
		got.TriggerPayload["k"] = "changed"

		again, err := store.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "v", again.TriggerPayload["k"])
	})

	t.Run("Update execution", func(t *testing.T) {
		e.Finish(execution.StatusCompleted, execution.OutcomeEnd, "", time.Now())
		require.NoError(t, store.Update(ctx, e))

		got, err := store.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCompleted, got.Status)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("Missing execution", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, execution.ErrExecutionNotFound)
		assert.ErrorIs(t, store.Update(ctx, newExecution("s", time.Now())), execution.ErrExecutionNotFound)
	})
}

func TestStore_Steps(t *testing.T) {
	ctx := context.Background()
	store := DefaultStore()
	e := newExecution("schema-1", time.Now())
	require.NoError(t, store.Create(ctx, e))

	for _, seq := range []int{2, 1, 3} {
		step := execution.NewStep(e.ID, seq, fmt.Sprintf("n%d", seq), "log")
		step.Status = execution.StepSuccess
		require.NoError(t, store.AppendStep(ctx, step))
	}

	steps, err := store.Steps(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.Seq)
	}

	dup := steps[0]
	assert.ErrorIs(t, store.AppendStep(ctx, dup), execution.ErrStepExists)

	orphan := execution.NewStep("nope", 1, "n", "log")
	orphan.Status = execution.StepSuccess
	assert.ErrorIs(t, store.AppendStep(ctx, orphan), execution.ErrExecutionNotFound)

	bad := execution.NewStep(e.ID, 0, "n", "log")
	bad.Status = execution.StepSuccess
	assert.ErrorIs(t, store.AppendStep(ctx, bad), execution.ErrInvalidSeq)
}

func TestStore_ListAndPurge(t *testing.T) {
	ctx := context.Background()
	store := DefaultStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		e := newExecution("schema-a", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, e))
		ids = append(ids, e.ID)
	}
	require.NoError(t, store.Create(ctx, newExecution("schema-b", base)))

	tests := []struct {
		name   string
		filter execution.Filter
		want   []string
	}{
		{"newest first", execution.Filter{SchemaID: "schema-a"}, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}},
		{"limit", execution.Filter{SchemaID: "schema-a", Limit: 2}, []string{ids[4], ids[3]}},
		{"offset", execution.Filter{SchemaID: "schema-a", Limit: 2, Offset: 3}, []string{ids[1], ids[0]}},
		{"offset past end", execution.Filter{SchemaID: "schema-a", Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			gotIDs := make([]string, 0, len(got))
			for _, e := range got {
				gotIDs = append(gotIDs, e.ID)
			}
			assert.Equal(t, tt.want, gotIDs)
		})
	}

	_, err := store.List(ctx, execution.Filter{Limit: -1})
	assert.ErrorIs(t, err, execution.ErrInvalidLimit)

	n, err := store.DeleteBySchema(ctx, "schema-a")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rest, err := store.List(ctx, execution.Filter{})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestStore_Retention(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Config{Retention: time.Hour})
	defer func() { _ = store.Close() }()

	now := time.Now()
	old := newExecution("s", now.Add(-3*time.Hour))
	old.Finish(execution.StatusCompleted, execution.OutcomeEnd, "", now.Add(-2*time.Hour))
	fresh := newExecution("s", now)
	fresh.Finish(execution.StatusCompleted, execution.OutcomeEnd, "", now)
	running := newExecution("s", now.Add(-3*time.Hour))
	running.Status = execution.StatusRunning

	for _, e := range []*execution.Execution{old, fresh, running} {
		require.NoError(t, store.Create(ctx, e))
	}

	assert.Equal(t, 1, store.cleanupExpired(now))
	_, err := store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, execution.ErrExecutionNotFound)
	_, err = store.Get(ctx, running.ID)
	assert.NoError(t, err)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := DefaultStore()
	e := newExecution("s", time.Now())
	require.NoError(t, store.Create(ctx, e))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			step := execution.NewStep(e.ID, seq, "n", "log")
			step.Status = execution.StepSuccess
			assert.NoError(t, store.AppendStep(ctx, step))
		}(i)
	}
	wg.Wait()

	steps, err := store.Steps(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 50)
}
