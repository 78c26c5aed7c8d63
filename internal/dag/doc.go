// Package dag is the task coordinator: an immutable, validated graph of
// core.Task values and an executor that runs it.
//
// It is split into:
//   - Immutable graph definition (TaskGraph): tasks, dependency edges inferred
//     from output and input paths, and a stable GraphHash
//   - Mutable execution state (ExecutionState): per-task runtime status
//
// Cycles and duplicate output paths are rejected when the graph is built,
// before anything runs. The executor skips tasks whose fingerprint is
// unchanged, marks everything downstream of a failure as not run, and emits
// a trace.Event for every decision.
package dag
