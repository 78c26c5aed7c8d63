package trace

import (
	"sync"

	"geoweaver/internal/geoerr"
)

// Sink receives coordinator events.
//
// Record must not panic and must not block for long; it may be called from
// several workers at once. Callers assume Record may be a no-op.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord records an event and swallows panics from buggy sinks.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Record(event Event) {
	for _, s := range m {
		SafeRecord(s, event)
	}
}

// WarningFunc adapts a sink to the warning callback primitives accept. Each
// warning becomes a NumericalWarning event attributed to taskID.
func WarningFunc(s Sink, taskID string) geoerr.WarningFunc {
	return func(w geoerr.Warning) {
		count := w.Count
		if count < 1 {
			count = 1
		}
		SafeRecord(s, Event{
			Kind:   EventNumericalWarning,
			TaskID: taskID,
			Reason: w.Op,
			Detail: w.Detail,
			Count:  count,
		})
	}
}

// Recorder is a concurrency-safe in-memory collector. Ordering is computed
// after collection, so lock contention does not affect the trace.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a copy of all recorded events in arrival order.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Warnings returns the total count of NumericalWarning events per task.
func (r *Recorder) Warnings() map[string]int {
	out := map[string]int{}
	for _, e := range r.Snapshot() {
		if e.Kind == EventNumericalWarning {
			out[e.TaskID] += e.Count
		}
	}
	return out
}

// Trace builds a canonical ExecutionTrace from the recorded events.
func (r *Recorder) Trace(graphHash string) ExecutionTrace {
	tr := ExecutionTrace{GraphHash: graphHash}
	tr.Events = r.Snapshot()
	tr.Canonicalize()
	return tr
}
