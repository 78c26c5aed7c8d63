package runlog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"geoweaver/internal/dag"
)

// Recorder writes the records of model runs.
type Recorder struct {
	Store *Store

	// Now is overridable in tests.
	Now func() time.Time
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// NewRunID returns a random run identifier.
func (r *Recorder) NewRunID() string { return uuid.NewString() }

// StartRun persists run in the running state.
func (r *Recorder) StartRun(run Run) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if run.RunID == "" {
		run.RunID = r.NewRunID()
	}
	if run.StartTime.IsZero() {
		run.StartTime = r.Now()
	}
	run.Status = StatusRunning
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// FinishRun writes the summary of res and moves the run to its final status.
// The first task failure, if any, is also written to failure.json.
func (r *Recorder) FinishRun(run Run, res *dag.GraphResult, warnings map[string]int, traceHash string) (Summary, error) {
	summary := Summarize(res, warnings)
	summary.TraceHash = traceHash
	if err := r.Store.SaveSummary(run.RunID, summary); err != nil {
		return Summary{}, err
	}

	status := StatusSucceeded
	if err := res.Err(); err != nil {
		status = StatusFailed
		if ferr := r.RecordFailure(run.RunID, firstError(err)); ferr != nil {
			return Summary{}, ferr
		}
	}
	if err := r.end(run, status); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// AbortRun records a run that stopped before the graph finished: a graph
// error, cancellation or an infrastructure failure.
func (r *Recorder) AbortRun(run Run, cause error) error {
	if err := r.RecordFailure(run.RunID, cause); err != nil {
		return err
	}
	f, _ := FailureFromError(cause)
	status := StatusFailed
	if f.ErrorCode == "Cancelled" {
		status = StatusCancelled
	}
	return r.end(run, status)
}

// RecordFailure classifies err and persists it.
func (r *Recorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := FailureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}

func (r *Recorder) end(run Run, status RunStatus) error {
	end := r.Now()
	run.EndTime = &end
	run.Status = status
	if err := r.Store.SaveRun(run); err != nil {
		return fmt.Errorf("finishing run %s: %w", run.RunID, err)
	}
	return nil
}

// Summarize groups the task outcomes of res.
func Summarize(res *dag.GraphResult, warnings map[string]int) Summary {
	s := Summary{
		Tasks:    make(map[string]string, len(res.FinalState)),
		Rebuilt:  append([]string{}, res.ExecutionOrder...),
		Cached:   []string{},
		Failed:   []string{},
		NotRun:   []string{},
		Warnings: map[string]int{},
	}
	for name, st := range res.FinalState {
		s.Tasks[name] = string(st)
		switch st {
		case dag.TaskCached:
			s.Cached = append(s.Cached, name)
		case dag.TaskFailed:
			s.Failed = append(s.Failed, name)
		case dag.TaskSkipped:
			s.NotRun = append(s.NotRun, name)
		}
	}
	sort.Strings(s.Cached)
	sort.Strings(s.Failed)
	sort.Strings(s.NotRun)
	for task, n := range warnings {
		if n > 0 {
			s.Warnings[task] = n
		}
	}
	return s
}

// firstError unwraps an errors.Join result to its first member.
func firstError(err error) error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := joined.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return err
}
