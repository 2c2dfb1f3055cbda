// Package vars holds the Variable Context threaded through one execution.
//
// A Context is an immutable value. Each step produces a new Context through
// Apply, so a snapshot taken after a step never changes afterwards.
package vars

import (
	"strconv"
	"strings"

	"github.com/flowgraph/nodeflow/internal/core/values"
)

// Top-level sections of a Context.
const (
	SectionWebhook   = "webhook"
	SectionUser      = "user"
	SectionExecution = "execution"
	SectionSteps     = "steps"
	SectionVariables = "variables"
)

// Seed is the initial material a Context is built from.
type Seed struct {
	Payload   map[string]any
	User      map[string]any
	Execution map[string]any
	Variables map[string]any
}

// Patch is the change a completed node contributes.
type Patch struct {
	// Output becomes steps.<node id>.output. Ignored when HasOutput is false.
	Output    any
	HasOutput bool
	Variables map[string]any
}

// Context is the read-only view of an execution's state.
type Context struct {
	payload   map[string]any
	user      map[string]any
	execution map[string]any
	steps     map[string]any
	variables map[string]any
}

// New builds the first Context of an execution. The seed is copied.
func New(seed Seed) Context {
	payload := values.CloneMap(seed.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return Context{
		payload:   payload,
		user:      orEmpty(values.CloneMap(seed.User)),
		execution: orEmpty(values.CloneMap(seed.Execution)),
		steps:     map[string]any{},
		variables: orEmpty(values.CloneMap(seed.Variables)),
	}
}

// Apply returns a new Context with the patch for nodeID merged in. The step
// output is written at most once per node; variables are last-write-wins.
func (c Context) Apply(nodeID string, p Patch) Context {
	next := c
	if p.HasOutput {
		if _, written := c.steps[nodeID]; !written {
			next.steps = shallowCopy(c.steps, 1)
			next.steps[nodeID] = map[string]any{"output": values.Clone(p.Output)}
		}
	}
	if len(p.Variables) > 0 {
		next.variables = shallowCopy(c.variables, len(p.Variables))
		for k, v := range p.Variables {
			next.variables[k] = values.Clone(v)
		}
	}
	return next
}

// Variable returns variables.<name>.
func (c Context) Variable(name string) (any, bool) {
	v, ok := c.variables[name]
	return v, ok
}

// StepOutput returns steps.<nodeID>.output.
func (c Context) StepOutput(nodeID string) (any, bool) {
	entry, ok := c.steps[nodeID].(map[string]any)
	if !ok {
		return nil, false
	}
	out, ok := entry["output"]
	return out, ok
}

// Lookup resolves a dotted path such as "webhook.payload.age" or
// "steps.http_1.output.data.items.0". A path whose first segment is not a
// section is looked up under variables.
func (c Context) Lookup(path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	var cur any
	switch segments[0] {
	case SectionWebhook:
		cur = map[string]any{"payload": c.payload}
	case SectionUser:
		cur = c.user
	case SectionExecution:
		cur = c.execution
	case SectionSteps:
		cur = c.steps
	case SectionVariables:
		cur = c.variables
	default:
		return walk(c.variables, segments)
	}
	return walk(cur, segments[1:])
}

// Snapshot returns a deep copy of the whole Context as a plain map.
func (c Context) Snapshot() map[string]any {
	return map[string]any{
		SectionWebhook:   map[string]any{"payload": values.CloneMap(c.payload)},
		SectionUser:      values.CloneMap(c.user),
		SectionExecution: values.CloneMap(c.execution),
		SectionSteps:     values.CloneMap(c.steps),
		SectionVariables: values.CloneMap(c.variables),
	}
}

func walk(cur any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func shallowCopy(m map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
