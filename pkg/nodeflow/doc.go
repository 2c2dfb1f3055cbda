// Package nodeflow provides a public façade for building and running workflow
// graphs without importing internal packages. It re-exports the graph and
// execution types and exposes an in-memory Runtime plus a graph Builder.
package nodeflow
