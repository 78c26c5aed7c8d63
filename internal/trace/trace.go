package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ExecutionTrace is the canonical record of one coordinator run.
//
// It captures logical transitions only. Elapsed times are carried on events
// for sinks but never appear in the canonical encoding, so two runs that made
// the same decisions produce byte-identical traces.
type ExecutionTrace struct {
	GraphHash string
	Events    []Event
}

// EventKind is the stable discriminator for Event. The string values are part
// of the canonical bytes; do not rename.
type EventKind string

const (
	EventTaskStarted      EventKind = "TaskStarted"
	EventTaskCached       EventKind = "TaskCached"
	EventTaskFinished     EventKind = "TaskFinished"
	EventTaskFailed       EventKind = "TaskFailed"
	EventTaskSkipped      EventKind = "TaskSkipped"
	EventTaskReleased     EventKind = "TaskReleased"
	EventNumericalWarning EventKind = "NumericalWarning"
)

// Reason codes.
const (
	ReasonUpstreamFailed = "UpstreamFailed"
	ReasonUpToDate       = "UpToDate"
	ReasonReleased       = "Released"
)

// Event is a single logical transition or observation.
type Event struct {
	Kind EventKind

	// TaskID identifies the task this event refers to.
	TaskID string

	// Reason is a stable code: the error kind for TaskFailed, UpstreamFailed
	// for TaskSkipped, UpToDate or Released for TaskCached.
	Reason string

	// CauseTaskID is the failing upstream task for TaskSkipped.
	CauseTaskID string

	// Fingerprint is set on TaskStarted, TaskFinished and TaskCached.
	Fingerprint string

	// Detail carries the diagnostic for TaskFailed and NumericalWarning.
	Detail string

	// Count aggregates repeated warnings.
	Count int

	// Artifacts lists output paths (TaskFinished, TaskCached, TaskReleased).
	Artifacts []string

	// Elapsed is the wall time of a finished or failed build. Not canonical.
	Elapsed time.Duration
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
		if e.Kind == EventTaskSkipped && e.CauseTaskID == "" {
			return fmt.Errorf("events[%d].causeTaskId is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace.
//
// Events are stably sorted by (taskId, kindOrder, reason, causeTaskId,
// detail, artifacts), which is independent of worker timing.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		t.Events[i].Artifacts = sortedCopy(t.Events[i].Artifacts)
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseTaskID != b.CauseTaskID {
			return a.CauseTaskID < b.CauseTaskID
		}
		if a.Detail != b.Detail {
			return a.Detail < b.Detail
		}
		return compareStringSlices(a.Artifacts, b.Artifacts)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventTaskCached:
		return 10
	case EventTaskStarted:
		return 20
	case EventNumericalWarning:
		return 30
	case EventTaskFinished:
		return 40
	case EventTaskFailed:
		return 50
	case EventTaskSkipped:
		return 60
	case EventTaskReleased:
		return 70
	default:
		return 1000
	}
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func compareStringSlices(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace without
// mutating the receiver.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash}
	cp.Events = make([]Event, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"graphHash":`)
	writeString(&buf, t.GraphHash)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields. Elapsed is
// never encoded.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	writeString(&buf, string(e.Kind))

	field := func(name, v string) {
		if v == "" {
			return
		}
		buf.WriteString(`,"` + name + `":`)
		writeString(&buf, v)
	}
	field("taskId", e.TaskID)
	field("reason", e.Reason)
	field("causeTaskId", e.CauseTaskID)
	field("fingerprint", e.Fingerprint)
	field("detail", e.Detail)
	if e.Count > 0 {
		buf.WriteString(`,"count":`)
		buf.WriteString(strconv.Itoa(e.Count))
	}
	if artifacts := sortedCopy(e.Artifacts); len(artifacts) > 0 {
		buf.WriteString(`,"artifacts":[`)
		for i, a := range artifacts {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(&buf, a)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
