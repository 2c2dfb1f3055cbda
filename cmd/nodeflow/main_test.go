package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
)

const greetingGraph = `{
  "id": "greeting",
  "nodes": [
    {"id": "start", "type": "start"},
    {"id": "hello", "type": "log", "data": {"config": {"message": "hello {{webhook.payload.name}} from {{variables.region}}"}}},
    {"id": "end", "type": "end"}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "hello"},
    {"id": "e2", "source": "hello", "target": "end"}
  ]
}`

// execute runs the root command in an isolated directory and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())
	for _, k := range []string{"DATABASE_URL", "RABBITMQ_URL", "NODEFLOW_STORAGE_DSN", "NODEFLOW_RABBITMQ_URL", "LOG_LEVEL", "NODEFLOW_LOG_LEVEL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		commit    string
		buildTime string
		want      string
	}{
		{"dev defaults", "dev", "unknown", "unknown", "nodeflow dev (commit: unknown, built: unknown)\n"},
		{"release", "v1.0.0", "abc123", "2026-01-01", "nodeflow v1.0.0 (commit: abc123, built: 2026-01-01)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldCommit, oldBuild := Version, Commit, BuildTime
			t.Cleanup(func() { Version, Commit, BuildTime = oldVersion, oldCommit, oldBuild })
			Version, Commit, BuildTime = tt.version, tt.commit, tt.buildTime

			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"version"})
			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRunCmd(t *testing.T) {
	file := writeFile(t, "greeting.json", greetingGraph)

	out, err := execute(t, "run", "--file", file, "--payload", `{"name":"Ann"}`, "--var", "region=eu")
	require.NoError(t, err)

	var detail struct {
		execution.Execution
		Steps []*execution.Step `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, "greeting", detail.SchemaID)
	assert.Equal(t, execution.StatusCompleted, detail.Status)
	require.Len(t, detail.Steps, 3)
	assert.Equal(t, "hello Ann from eu", detail.Steps[1].LogMessage)
}

func TestRunCmd_FailedExecution(t *testing.T) {
	file := writeFile(t, "fail.json", `{
  "id": "fail",
  "nodes": [
    {"id": "start", "type": "start"},
    {"id": "end", "type": "end", "data": {"config": {"success": false, "message": "rejected"}}}
  ],
  "edges": [{"id": "e1", "source": "start", "target": "end"}]
}`)

	out, err := execute(t, "run", "--file", file)
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, `"status": "error"`)
}

func TestRunCmd_Errors(t *testing.T) {
	valid := writeFile(t, "g.json", greetingGraph)
	tests := []struct {
		name string
		args []string
	}{
		{"missing file flag", []string{"run"}},
		{"unreadable file", []string{"run", "--file", filepath.Join(t.TempDir(), "absent.json")}},
		{"malformed graph", []string{"run", "--file", writeFile(t, "bad.json", "{")}},
		{"payload not an object", []string{"run", "--file", valid, "--payload", "[1]"}},
		{"bad var", []string{"run", "--file", valid, "--var", "novalue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, "validate", "--file", writeFile(t, "greeting.json", greetingGraph))
	require.NoError(t, err)
	assert.Equal(t, "greeting: valid (3 nodes, 2 edges)\n", out)

	broken := strings.Replace(greetingGraph, `"target": "end"`, `"target": "ghost"`, 1)
	_, err = execute(t, "validate", "--file", writeFile(t, "broken.json", broken))
	var se *graph.StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, graph.KindDanglingTarget, se.Kind)
	assert.Equal(t, "e2", se.EdgeID)
}

func TestNodeTypesCmd(t *testing.T) {
	out, err := execute(t, "node-types", "--json")
	require.NoError(t, err)

	var catalog []nodes.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	byType := map[graph.NodeType]nodes.Descriptor{}
	for _, d := range catalog {
		byType[d.Type] = d
	}
	assert.True(t, byType[graph.NodeTypeHTTPRequest].Active)
	// no broker configured
	assert.False(t, byType[graph.NodeTypeRabbitMQPublish].Active)

	table, err := execute(t, "node-types")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(table, "TYPE"))
	assert.Contains(t, table, "condition")
}

func TestWorkerCmd_RequiresBroker(t *testing.T) {
	_, err := execute(t, "worker")
	assert.ErrorIs(t, err, errNoBroker)
}

func TestServeCmd_InvalidAddrOverride(t *testing.T) {
	_, err := execute(t, "serve", "--addr", "")
	assert.Error(t, err)
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"node-types", "--log-level", "loud"})
	chdir(t, t.TempDir())
	assert.Error(t, cmd.Execute())
}

func TestParseVars(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]any
		wantErr bool
	}{
		{"empty", nil, map[string]any{}, false},
		{"typed values", []string{"n=5", "ok=true", "name=Ann", `obj={"a":1}`}, map[string]any{
			"n": float64(5), "ok": true, "name": "Ann", "obj": map[string]any{"a": float64(1)},
		}, false},
		{"value keeps equals", []string{"expr=a=b"}, map[string]any{"expr": "a=b"}, false},
		{"empty value", []string{"blank="}, map[string]any{"blank": ""}, false},
		{"missing equals", []string{"oops"}, nil, true},
		{"empty key", []string{"=1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVars(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadGraph_IDFromFileName(t *testing.T) {
	path := writeFile(t, "orders.json", `{"nodes": [{"id": "start", "type": "start"}], "edges": []}`)
	g, err := readGraph(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", g.ID)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir for go < 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
