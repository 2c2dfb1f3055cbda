package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	payload := map[string]any{"a": 1}
	e := New("schema-1", 3, payload, true)
	payload["a"] = 2

	require.NoError(t, e.Validate())
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 3, e.GraphVersion)
	assert.Equal(t, 1, e.TriggerPayload["a"])
	assert.True(t, e.DebugMode)
	assert.Nil(t, e.FinishedAt)
}

func TestExecution_Validate(t *testing.T) {
	tests := []struct {
		name    string
		exec    Execution
		wantErr error
	}{
		{"ok", Execution{ID: "x", SchemaID: "s", Status: StatusRunning}, nil},
		{"missing id", Execution{SchemaID: "s", Status: StatusRunning}, ErrInvalidExecutionID},
		{"missing schema", Execution{ID: "x", Status: StatusRunning}, ErrInvalidSchemaID},
		{"bad status", Execution{ID: "x", SchemaID: "s", Status: "paused"}, ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exec.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExecution_FinishAndClone(t *testing.T) {
	e := New("s", 1, nil, false)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.Finish(StatusError, OutcomeFatal, "division by zero", at)

	assert.True(t, e.Status.Terminal())
	assert.Equal(t, OutcomeFatal, e.Outcome)
	require.NotNil(t, e.FinishedAt)

	cp := e.Clone()
	*cp.FinishedAt = at.Add(time.Hour)
	assert.Equal(t, at, *e.FinishedAt)
	assert.False(t, StatusRunning.Terminal())
}

func TestStep_Validate(t *testing.T) {
	s := NewStep("exec", 1, "start_1", "start")
	assert.ErrorIs(t, s.Validate(), ErrInvalidStatus)

	s.Status = StepSuccess
	assert.NoError(t, s.Validate())

	s.Seq = 0
	assert.ErrorIs(t, s.Validate(), ErrInvalidSeq)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, (&Filter{Limit: 10}).Validate())
	assert.ErrorIs(t, (&Filter{Limit: -1}).Validate(), ErrInvalidLimit)
	assert.ErrorIs(t, (&Filter{Offset: -1}).Validate(), ErrInvalidOffset)
}
