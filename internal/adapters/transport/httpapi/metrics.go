package httpapi

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/flowgraph/nodeflow/internal/infrastructure/metrics"
)

// promMetricsHandler renders the nodeflow expvar metrics in Prometheus text
// exposition format. Other expvar integers are emitted as untyped gauges.
func promMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	known := make(map[string]metrics.Desc)
	for _, d := range metrics.Descriptors() {
		known[d.Name] = d
	}

	varNames := make([]string, 0, 64)
	expvar.Do(func(kv expvar.KeyValue) {
		varNames = append(varNames, kv.Key)
	})
	sort.Strings(varNames)

	for _, name := range varNames {
		v := expvar.Get(name)
		d, ok := known[name]
		if !ok {
			if iv, isInt := v.(*expvar.Int); isInt {
				_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
				_, _ = fmt.Fprintf(w, "%s %s\n", name, iv.String())
			}
			continue
		}

		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, sanitizeHelp(d.Help))
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, d.Type)
		if d.Label == "" {
			_, _ = fmt.Fprintf(w, "%s %s\n", name, v.String())
			continue
		}
		mp, isMap := v.(*expvar.Map)
		if !isMap {
			continue
		}
		sub := make([]expvar.KeyValue, 0, 8)
		mp.Do(func(kv expvar.KeyValue) { sub = append(sub, kv) })
		sort.Slice(sub, func(i, j int) bool { return sub[i].Key < sub[j].Key })
		for _, kv := range sub {
			_, _ = fmt.Fprintf(w, "%s{%s=\"%s\"} %s\n", name, d.Label, escapeLabel(kv.Key), kv.Value.String())
		}
	}
}

func sanitizeHelp(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// escapeLabel escapes backslash, double-quote and newline
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
