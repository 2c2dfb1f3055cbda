// Package expr resolves {{ path }} templates and evaluates single comparisons
// against a variable scope. The grammar is deliberately tiny: dotted-path
// interpolation plus one comparison operator per expression.
package expr

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Undefined is substituted for paths that do not resolve.
const Undefined = "undefined"

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Scope is anything that can resolve a dotted path. vars.Context implements it.
type Scope interface {
	Lookup(path string) (any, bool)
}

// Resolve replaces every {{ path }} in template with the formatted value found
// in scope. It never fails: unknown paths become Undefined.
func Resolve(template string, scope Scope) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		v, ok := scope.Lookup(path)
		if !ok {
			return Undefined
		}
		return Format(v)
	})
}

// ResolveValue resolves every string inside v, walking maps and slices.
// Other values are returned unchanged.
func ResolveValue(v any, scope Scope) any {
	switch t := v.(type) {
	case string:
		return Resolve(t, scope)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ResolveValue(item, scope)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ResolveValue(item, scope)
		}
		return out
	default:
		return v
	}
}

// Format renders a context value the way templates insert it.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case map[string]any, []any, map[string]string, []string:
		b, err := json.Marshal(t)
		if err != nil {
			return Undefined
		}
		return string(b)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		b, jerr := json.Marshal(v)
		if jerr != nil {
			return Undefined
		}
		return string(b)
	}
	return s
}

// ToNumber coerces v to a float64. Strings are trimmed first; "undefined",
// empty strings and non-numeric text fail.
func ToNumber(v any) (float64, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, ErrNotANumber
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, ErrNotANumber
		}
		return f, nil
	}
	switch v.(type) {
	case nil, bool:
		return 0, ErrNotANumber
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, ErrNotANumber
	}
	return f, nil
}
