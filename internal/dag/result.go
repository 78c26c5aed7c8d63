package dag

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"geoweaver/internal/core"
)

// NodeResult is the outcome of probing or running one task.
type NodeResult struct {
	Fingerprint core.Fingerprint

	// Err is the build failure; nil on success.
	Err error

	FromCache bool

	// Released marks an ephemeral task whose outputs were removed after an
	// earlier run but are still recorded under Fingerprint. The executor
	// rebuilds it only when a consumer has to run.
	Released bool

	Elapsed time.Duration
}

// GraphResult summarizes one execution attempt.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder lists the tasks whose build was invoked, in start order.
	ExecutionOrder []string

	// Fingerprints holds the fingerprint of every COMPLETED or CACHED task.
	Fingerprints map[string]core.Fingerprint

	// Errors holds the failure of every FAILED task.
	Errors map[string]error

	// SkippedBy maps each SKIPPED task to the failed task that caused it.
	SkippedBy map[string]string
}

// Rebuilt reports the number of tasks whose build ran.
func (r *GraphResult) Rebuilt() int { return len(r.ExecutionOrder) }

// Failed returns the failed task names, sorted.
func (r *GraphResult) Failed() []string {
	out := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Err joins the task failures in name order, or returns nil when every task
// succeeded.
func (r *GraphResult) Err() error {
	var errs []error
	for _, name := range r.Failed() {
		errs = append(errs, &TaskError{Task: name, Err: r.Errors[name]})
	}
	return errors.Join(errs...)
}

// TaskError attributes a build failure to a task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %q: %v", e.Task, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }
