package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"geoweaver/internal/geoerr"
)

// Locker serializes access to workspace files across concurrently running
// tasks: shared for reads, exclusive for writes.
type Locker interface {
	Lock(reads, writes []string) (unlock func())
}

// Runner decides whether a task can be skipped and, when it cannot, runs it.
//
// The execution flow:
//  1. Resolve inputs and compute the fingerprint (Probe)
//  2. Skip when every output exists and the ledger holds the same fingerprint
//  3. Otherwise forget the old ledger entries and run the build function
//  4. On success record the fingerprint for every output
//  5. On failure or cancellation remove whatever outputs were written
//
// A failed task never leaves a ledger entry behind, so the next run rebuilds it.
type Runner struct {
	WorkingDir    string
	Resolver      *InputResolver
	Fingerprinter *Fingerprinter
	Ledger        Ledger

	// Locker is optional.
	Locker Locker
}

// NewRunner creates a Runner rooted at workingDir.
func NewRunner(workingDir string, ledger Ledger) *Runner {
	return &Runner{
		WorkingDir:    workingDir,
		Resolver:      NewInputResolver(workingDir),
		Fingerprinter: NewFingerprinter(),
		Ledger:        ledger,
	}
}

// RunResult is the outcome of executing one task.
type RunResult struct {
	Fingerprint Fingerprint

	// Err is the build failure, nil on success. Infrastructure failures are
	// returned separately by Execute.
	Err error
}

// Fingerprint resolves the inputs of task and computes its fingerprint.
func (r *Runner) Fingerprint(task *Task, up Upstream) (Fingerprint, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	set, err := r.Resolver.Resolve(task.Inputs, up)
	if err != nil {
		return "", fmt.Errorf("resolving inputs of %q: %w", task.Name, err)
	}
	for _, name := range task.After {
		ref := TaskRef(name)
		set.Inputs = append(set.Inputs, Input{Path: ref, Digest: string(up[ref])})
	}
	return r.Fingerprinter.Compute(FingerprintInput{
		Inputs:   set,
		Identity: task.Identity,
		Config:   task.Config,
		Outputs:  task.Outputs,
	}), nil
}

// OutputState is what Probe found for a task's outputs.
type OutputState int

const (
	// OutputsStale means the task must run.
	OutputsStale OutputState = iota
	// OutputsCurrent means every output exists under the current fingerprint.
	OutputsCurrent
	// OutputsReleased means every output is recorded under the current
	// fingerprint but none exists: an ephemeral task whose files were removed
	// after its consumers finished.
	OutputsReleased
)

// Probe reports whether task can be skipped. The fingerprint is returned in
// both cases so the caller can pass it to Execute.
func (r *Runner) Probe(task *Task, up Upstream) (Fingerprint, bool, error) {
	fp, st, err := r.Status(task, up)
	return fp, st == OutputsCurrent, err
}

// Status computes the fingerprint of task and classifies its outputs. A task
// without outputs is always stale.
func (r *Runner) Status(task *Task, up Upstream) (Fingerprint, OutputState, error) {
	fp, err := r.Fingerprint(task, up)
	if err != nil {
		return "", OutputsStale, err
	}
	if len(task.Outputs) == 0 {
		return fp, OutputsStale, nil
	}
	present := 0
	for _, o := range task.Outputs {
		e, ok, err := r.Ledger.Lookup(o)
		if err != nil {
			return "", OutputsStale, err
		}
		if !ok || e.Fingerprint != fp {
			return fp, OutputsStale, nil
		}
		if _, err := os.Stat(r.abs(o)); err == nil {
			present++
		}
	}
	switch present {
	case len(task.Outputs):
		return fp, OutputsCurrent, nil
	case 0:
		if task.Ephemeral {
			return fp, OutputsReleased, nil
		}
	}
	return fp, OutputsStale, nil
}

// Execute runs the build function of task under fingerprint fp.
//
// A build failure is reported in RunResult.Err; the returned error is reserved
// for failures of the runner itself (ledger writes, output cleanup).
func (r *Runner) Execute(ctx context.Context, task *Task, fp Fingerprint) (*RunResult, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if r.Locker != nil {
		unlock := r.Locker.Lock(task.Inputs, task.Outputs)
		defer unlock()
	}
	if err := r.Ledger.Forget(task.Outputs); err != nil {
		return nil, fmt.Errorf("forgetting outputs of %q: %w", task.Name, err)
	}
	for _, o := range task.Outputs {
		if err := os.MkdirAll(filepath.Dir(r.abs(o)), 0o755); err != nil {
			return nil, geoerr.IO("core.Execute", o, err)
		}
	}

	buildErr := task.Build(ctx)
	if buildErr == nil && ctx.Err() != nil {
		buildErr = ctx.Err()
	}
	if buildErr == nil {
		for _, o := range task.Outputs {
			if _, err := os.Stat(r.abs(o)); err != nil {
				buildErr = geoerr.Invariantf("core.Execute", "task %q did not produce declared output %s", task.Name, o)
				break
			}
		}
	}
	if buildErr != nil {
		if err := r.CleanOutputs(task.Outputs); err != nil {
			return nil, errors.Join(buildErr, err)
		}
		return &RunResult{Fingerprint: fp, Err: buildErr}, nil
	}

	if err := r.Ledger.Record(task.Name, fp, task.Outputs); err != nil {
		return nil, fmt.Errorf("recording outputs of %q: %w", task.Name, err)
	}
	return &RunResult{Fingerprint: fp}, nil
}

// CleanOutputs removes outputs, ignoring ones that do not exist. Shapefile
// outputs take their sidecars with them.
func (r *Runner) CleanOutputs(outputs []string) error {
	var errs []error
	for _, o := range outputs {
		p := r.abs(o)
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("removing %q: %w", o, err))
		}
		if filepath.Ext(p) == ".shp" {
			base := p[:len(p)-len(".shp")]
			for _, ext := range sidecars {
				_ = os.Remove(base + ext)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) abs(p string) string {
	if filepath.IsAbs(p) || r.WorkingDir == "" {
		return p
	}
	return filepath.Join(r.WorkingDir, p)
}
