// Package tofu provides the task-graph runtime behind tomographic
// reconstruction pipelines. Processing nodes are instantiated by name from a
// plugin manager, configured through typed properties and wired into a
// directed acyclic graph. A scheduler executes the graph concurrently while
// honouring dependency order, propagating cancellation via context.Context,
// collecting metrics, and emitting lifecycle hooks for observability.
package tofu
