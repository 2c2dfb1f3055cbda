// Package values holds helpers for the loosely typed map/slice values that flow
// through node configs, trigger payloads and the variable context.
package values

// Clone returns a deep copy of v. Maps and slices are copied recursively;
// any other value is returned as-is and treated as immutable.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// CloneMap deep-copies m. A nil map stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Merge overlays override on top of base and returns a new map. Nested maps are
// merged key by key; every other value in override replaces the base value.
func Merge(base, override map[string]any) map[string]any {
	out := CloneMap(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	for k, v := range override {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = Clone(v)
	}
	return out
}
