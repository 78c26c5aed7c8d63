package cli

import (
	"fmt"

	"geoweaver/internal/config"
	"geoweaver/internal/dag"
	"geoweaver/internal/models"
)

// BuildGraph declares the model's tasks and validates them into a graph.
//
// The builder is deterministic: the same configuration yields the same
// graph hash, whatever the workspace contents.
func BuildGraph(model string, env models.Env, cfg *config.Config) (*dag.TaskGraph, error) {
	build, ok := models.Lookup(model)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", model)
	}
	tasks, err := build(env, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%s: no tasks", model)
	}
	if err := env.Workspace.Guard(tasks); err != nil {
		return nil, err
	}
	return dag.Build(tasks)
}
