package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClone_IsDeep(t *testing.T) {
	src := map[string]any{
		"a": map[string]any{"b": []any{1, map[string]any{"c": "d"}}},
	}

	cp := CloneMap(src)
	cp["a"].(map[string]any)["b"].([]any)[1].(map[string]any)["c"] = "changed"

	assert.Equal(t, "d", src["a"].(map[string]any)["b"].([]any)[1].(map[string]any)["c"])
	assert.Nil(t, CloneMap(nil))
}

func TestMerge(t *testing.T) {
	defaults := map[string]any{
		"timeout": 30,
		"retry":   map[string]any{"enabled": false, "max_attempts": 3, "delay": 5},
	}
	provided := map[string]any{
		"retry": map[string]any{"enabled": true},
		"url":   "http://x",
	}

	got := Merge(defaults, provided)

	assert.Equal(t, 30, got["timeout"])
	assert.Equal(t, "http://x", got["url"])
	assert.Equal(t, map[string]any{"enabled": true, "max_attempts": 3, "delay": 5}, got["retry"])
	// inputs untouched
	assert.Equal(t, false, defaults["retry"].(map[string]any)["enabled"])
}
