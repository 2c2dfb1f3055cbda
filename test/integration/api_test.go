//go:build integration

// Package integration runs the HTTP API end to end over a SQLite history.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/adapters/connector/httpconn"
	graphrepo "github.com/flowgraph/nodeflow/internal/adapters/repository/graph"
	"github.com/flowgraph/nodeflow/internal/adapters/repository/sqlite"
	"github.com/flowgraph/nodeflow/internal/adapters/transport/httpapi"
	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/app/services"
	"github.com/flowgraph/nodeflow/internal/app/usecases"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/pkg/serialization"
)

type stack struct {
	api   *httptest.Server
	store *sqlite.ExecutionStore
	execs *services.ExecutionService
}

func newStack(t *testing.T, dsn string) *stack {
	t.Helper()
	serializer, err := serialization.Parse("msgpack+zstd")
	require.NoError(t, err)
	store, err := sqlite.Open(context.Background(), dsn, serializer)
	require.NoError(t, err)

	logger := zap.NewNop()
	registry := nodes.NewRegistry(
		nodes.WithLogger(logger),
		nodes.WithHTTPConnector(httpconn.New(5*time.Second)),
	)
	repo := graphrepo.NewInMemoryGraphRepository()
	executor := usecases.NewDefaultGraphExecutor(
		usecases.NewDefaultNodeProcessor(registry, logger),
		usecases.NewDefaultEdgeRouter(),
		store,
		usecases.WithMaxSteps(100),
	)
	graphs := services.NewGraphService(repo, registry)
	execs := services.NewExecutionService(repo, store, executor, registry, logger)
	api := httptest.NewServer(httpapi.New(graphs, execs, logger).Handler())

	s := &stack{api: api, store: store, execs: execs}
	t.Cleanup(func() {
		api.Close()
		execs.Close()
		_ = store.Close()
	})
	return s
}

func (s *stack) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.api.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *stack) waitFinished(t *testing.T, id string) *execution.Execution {
	t.Helper()
	var exec execution.Execution
	require.Eventually(t, func() bool {
		if s.do(t, http.MethodGet, "/api/executions/"+id, nil, &exec) != http.StatusOK {
			return false
		}
		return exec.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return &exec
}

// profileGraph fetches a profile and branches on the response.
func profileGraph(upstream string) map[string]any {
	node := func(id, typ string, config map[string]any) map[string]any {
		return map[string]any{"id": id, "type": typ, "data": map[string]any{"type": typ, "config": config}}
	}
	edge := func(id, src, port, dst string) map[string]any {
		return map[string]any{"id": id, "source": src, "sourceHandle": port, "target": dst}
	}
	return map[string]any{
		"id": "profile",
		"nodes": []any{
			node("start", "start", nil),
			node("fetch", "http_request", map[string]any{
				"method": "POST",
				"url":    upstream + "/profiles",
				"body":   map[string]any{"user": "{{webhook.payload.user}}"},
			}),
			node("tier", "variable_set", map[string]any{"variable": "tier", "value": "{{steps.fetch.output.data.tier}}"}),
			node("gold", "condition", map[string]any{"expression": "{{variables.tier}} == gold"}),
			node("welcome", "log", map[string]any{"message": "welcome back {{webhook.payload.user}}"}),
			node("done", "end", map[string]any{"message": "tier {{variables.tier}}"}),
			node("failed", "end", map[string]any{"success": false, "message": "lookup failed: {{steps.fetch.output.status}}"}),
		},
		"edges": []any{
			edge("e1", "start", "output", "fetch"),
			edge("e2", "fetch", "success", "tier"),
			edge("e3", "fetch", "error", "failed"),
			edge("e4", "tier", "output", "gold"),
			edge("e5", "gold", "true", "welcome"),
			edge("e6", "gold", "false", "done"),
			edge("e7", "welcome", "output", "done"),
		},
	}
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			User string `json:"user"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch body.User {
		case "ann":
			_, _ = fmt.Fprint(w, `{"tier":"gold"}`)
		case "bob":
			_, _ = fmt.Fprint(w, `{"tier":"silver"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"error":"unknown user"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAPI_EndToEnd(t *testing.T) {
	up := upstream(t)
	s := newStack(t, filepath.Join(t.TempDir(), "nodeflow.db"))

	var saved map[string]any
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/schemas/profile", profileGraph(up.URL), &saved))
	assert.EqualValues(t, 1, saved["version"])

	tests := []struct {
		user      string
		status    execution.Status
		steps     []string
		lastLog   string
		wantError string
	}{
		{"ann", execution.StatusCompleted, []string{"start", "fetch", "tier", "gold", "welcome", "done"}, "tier gold", ""},
		{"bob", execution.StatusCompleted, []string{"start", "fetch", "tier", "gold", "done"}, "tier silver", ""},
		{"eve", execution.StatusError, []string{"start", "fetch", "failed"}, "lookup failed: 404", "lookup failed: 404"},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			var accepted dto.TriggerResponse
			code := s.do(t, http.MethodPost, "/api/executions", dto.TriggerRequest{
				SchemaID:       "profile",
				TriggerPayload: map[string]any{"user": tt.user},
			}, &accepted)
			require.Equal(t, http.StatusAccepted, code)
			require.NotEmpty(t, accepted.ExecutionID)

			final := s.waitFinished(t, accepted.ExecutionID)
			assert.Equal(t, tt.status, final.Status)
			assert.Equal(t, execution.OutcomeEnd, final.Outcome)
			assert.Equal(t, tt.wantError, final.Error)

			var steps []*execution.Step
			require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/executions/"+accepted.ExecutionID+"/steps", nil, &steps))
			got := make([]string, len(steps))
			for i, st := range steps {
				got[i] = st.NodeID
				assert.Equal(t, i+1, st.Seq)
			}
			assert.Equal(t, tt.steps, got)
			assert.Equal(t, tt.lastLog, steps[len(steps)-1].LogMessage)
		})
	}

	var list []*execution.Execution
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/executions/list/profile?limit=2", nil, &list))
	assert.Len(t, list, 2)

	var purged dto.PurgeResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/executions/schema/profile", nil, &purged))
	assert.Equal(t, 3, purged.Deleted)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/executions/list/profile", nil, &list))
	assert.Empty(t, list)
}

func TestAPI_RejectsBrokenGraphBeforeRecording(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "nodeflow.db"))

	broken := profileGraph("http://unused")
	broken["edges"] = append(broken["edges"].([]any), map[string]any{"id": "e8", "source": "done", "target": "ghost"})
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/schemas/profile", broken, nil))

	code := s.do(t, http.MethodPost, "/api/executions", dto.TriggerRequest{SchemaID: "profile"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	all, err := s.store.List(context.Background(), execution.Filter{SchemaID: "profile"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistorySurvivesRestart(t *testing.T) {
	up := upstream(t)
	dsn := filepath.Join(t.TempDir(), "nodeflow.db")

	first := newStack(t, dsn)
	require.Equal(t, http.StatusOK, first.do(t, http.MethodPut, "/api/schemas/profile", profileGraph(up.URL), nil))
	var accepted dto.TriggerResponse
	require.Equal(t, http.StatusAccepted, first.do(t, http.MethodPost, "/api/executions",
		dto.TriggerRequest{SchemaID: "profile", TriggerPayload: map[string]any{"user": "ann"}}, &accepted))
	first.waitFinished(t, accepted.ExecutionID)
	first.api.Close()
	first.execs.Close()
	require.NoError(t, first.store.Close())

	second := newStack(t, dsn)
	var steps []*execution.Step
	require.Equal(t, http.StatusOK, second.do(t, http.MethodGet, "/api/executions/"+accepted.ExecutionID+"/steps", nil, &steps))
	require.Len(t, steps, 6)
	assert.Equal(t, "welcome back ann", steps[4].LogMessage)
}
