package core

import (
	"context"
	"fmt"
	"strings"
)

// BuildFunc produces a task's outputs. It must honor cancellation of ctx and
// may leave partial files behind on failure; the runner removes them.
type BuildFunc func(ctx context.Context) error

// Task is one node of a model's task graph.
//
// Inputs and Outputs are file paths. An input that is another task's output
// creates a dependency edge; After names extra upstream tasks by name. Identity
// names the build function and its version, so changing the algorithm
// invalidates previous results even when files are unchanged. Config carries
// the scalar parameters of the build and is part of the fingerprint.
type Task struct {
	Name     string
	Inputs   []string
	Outputs  []string
	After    []string
	Identity string
	Config   map[string]string

	// Ephemeral outputs are intermediate files removed once every consumer
	// has finished.
	Ephemeral bool

	Build BuildFunc
}

// Validate checks the fields required before a task can join a graph.
func (t *Task) Validate() error {
	if t == nil {
		return fmt.Errorf("task is nil")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Build == nil {
		return fmt.Errorf("task %q: build function is required", t.Name)
	}
	if strings.TrimSpace(t.Identity) == "" {
		return fmt.Errorf("task %q: identity is required", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Outputs))
	for _, o := range t.Outputs {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("task %q: empty output path", t.Name)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("task %q: output %q declared twice", t.Name, o)
		}
		seen[o] = struct{}{}
	}
	return nil
}
