package metrics

import (
	"expvar"
)

// Per-label counters, keyed by status, node type or connector.
var (
	executionsFinished = expvar.NewMap("nodeflow_executions_finished_total")
	stepsTotal         = expvar.NewMap("nodeflow_steps_total")
	stepErrors         = expvar.NewMap("nodeflow_step_errors_total")
	connectorAttempts  = expvar.NewMap("nodeflow_connector_attempts_total")
)

// Scalar counters and gauges.
var (
	executionsStarted = new(expvar.Int)
	activeExecutions  = new(expvar.Int)
)

func init() {
	expvar.Publish("nodeflow_executions_started_total", executionsStarted)
	expvar.Publish("nodeflow_active_executions", activeExecutions)
}

// Execution helpers
func ExecutionStarted() {
	executionsStarted.Add(1)
	activeExecutions.Add(1)
}

func ExecutionFinished(status string) {
	executionsFinished.Add(status, 1)
	activeExecutions.Add(-1)
}

// Step helpers
func StepRecorded(nodeType string, failed bool) {
	stepsTotal.Add(nodeType, 1)
	if failed {
		stepErrors.Add(nodeType, 1)
	}
}

// Connector helpers
func ConnectorAttempt(connector string) { connectorAttempts.Add(connector, 1) }

// Desc describes a published metric for text exposition.
type Desc struct {
	Name  string
	Type  string
	Help  string
	Label string // empty for scalar metrics
}

// Descriptors lists every metric this package publishes.
func Descriptors() []Desc {
	return []Desc{
		{Name: "nodeflow_executions_started_total", Type: "counter", Help: "Executions started"},
		{Name: "nodeflow_active_executions", Type: "gauge", Help: "Executions currently running"},
		{Name: "nodeflow_executions_finished_total", Type: "counter", Help: "Executions finished by final status", Label: "status"},
		{Name: "nodeflow_steps_total", Type: "counter", Help: "Steps recorded by node type", Label: "node_type"},
		{Name: "nodeflow_step_errors_total", Type: "counter", Help: "Failed steps by node type", Label: "node_type"},
		{Name: "nodeflow_connector_attempts_total", Type: "counter", Help: "Connector calls by connector", Label: "connector"},
	}
}
