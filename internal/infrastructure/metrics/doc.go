// Package metrics exposes expvar-published counters and gauges for executions,
// steps and connector calls. The HTTP API renders them at /metrics in
// Prometheus text format and raw at /debug/vars.
package metrics
