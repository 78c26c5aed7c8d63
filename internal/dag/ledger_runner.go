package dag

import (
	"context"
	"fmt"

	"geoweaver/internal/core"
)

// LedgerRunner adapts core.Runner to the executor: Probe consults the
// fingerprint ledger, Run executes the build and records the outputs, Release
// deletes ephemeral outputs.
type LedgerRunner struct {
	Runner *core.Runner
}

func NewLedgerRunner(r *core.Runner) (*LedgerRunner, error) {
	if r == nil {
		return nil, fmt.Errorf("nil core runner")
	}
	return &LedgerRunner{Runner: r}, nil
}

func (r *LedgerRunner) Probe(_ context.Context, task core.Task, up core.Upstream) (*NodeResult, bool, error) {
	fp, st, err := r.Runner.Status(&task, up)
	if err != nil {
		return nil, false, err
	}
	cached := st == core.OutputsCurrent
	return &NodeResult{Fingerprint: fp, FromCache: cached, Released: st == core.OutputsReleased}, cached, nil
}

func (r *LedgerRunner) Run(ctx context.Context, task core.Task, fp core.Fingerprint) (*NodeResult, error) {
	res, err := r.Runner.Execute(ctx, &task, fp)
	if err != nil {
		return nil, err
	}
	return &NodeResult{Fingerprint: res.Fingerprint, Err: res.Err}, nil
}

func (r *LedgerRunner) Release(_ context.Context, task core.Task) error {
	return r.Runner.CleanOutputs(task.Outputs)
}
