package runlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Run is the persistent metadata of one model invocation.
type Run struct {
	RunID     string     `json:"run_id"`
	Model     string     `json:"model"`
	GraphHash string     `json:"graph_hash"`
	Suffix    string     `json:"suffix"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Status    RunStatus  `json:"status"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time is before start_time"))
	}
	return errors.Join(errs...)
}

// Summary is what the run did: per-task outcomes and accumulated warnings.
type Summary struct {
	Tasks     map[string]string `json:"tasks"`
	Rebuilt   []string          `json:"rebuilt"`
	Cached    []string          `json:"cached"`
	Failed    []string          `json:"failed"`
	NotRun    []string          `json:"not_run"`
	Warnings  map[string]int    `json:"warnings"`
	TraceHash string            `json:"trace_hash"`
}

func (s Summary) Validate() error {
	if len(s.Tasks) == 0 {
		return errors.New("tasks is required")
	}
	return nil
}

// TotalWarnings sums the warning counts of every task.
func (s Summary) TotalWarnings() int {
	n := 0
	for _, c := range s.Warnings {
		n += c
	}
	return n
}

type FailureClass string

const (
	FailureClassInput     FailureClass = "input"
	FailureClassDomain    FailureClass = "domain"
	FailureClassInvariant FailureClass = "invariant"
	FailureClassIO        FailureClass = "io"
	FailureClassGraph     FailureClass = "graph"
	FailureClassSystem    FailureClass = "system"
)

// Failure is the recorded reason a run did not succeed: the failing task, the
// offending input and the rule violated.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	TaskID       *string      `json:"task_id,omitempty"`
	Path         string       `json:"path,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassInput, FailureClassDomain, FailureClassInvariant, FailureClassIO, FailureClassGraph, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.TaskID != nil && strings.TrimSpace(*f.TaskID) == "" {
		errs = append(errs, errors.New("task_id must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
