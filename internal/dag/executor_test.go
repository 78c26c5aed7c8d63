package dag

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"geoweaver/internal/core"
	"geoweaver/internal/geoerr"
	"geoweaver/internal/trace"
)

type fakeRunner struct {
	fail     map[string]error
	checkErr map[string]error
	cached   map[string]bool
	delay    map[string]time.Duration
	onRun    func(name string)

	mu       sync.Mutex
	runs     []string
	released []string
	ups      map[string]core.Upstream
}

func (r *fakeRunner) Probe(_ context.Context, task core.Task, up core.Upstream) (*NodeResult, bool, error) {
	r.mu.Lock()
	if r.ups == nil {
		r.ups = map[string]core.Upstream{}
	}
	r.ups[task.Name] = up
	r.mu.Unlock()

	if err := r.checkErr[task.Name]; err != nil {
		return nil, false, err
	}
	fp := core.Fingerprint("fp:" + task.Name)
	return &NodeResult{Fingerprint: fp, FromCache: r.cached[task.Name]}, r.cached[task.Name], nil
}

func (r *fakeRunner) Run(_ context.Context, task core.Task, fp core.Fingerprint) (*NodeResult, error) {
	if d := r.delay[task.Name]; d > 0 {
		time.Sleep(d)
	}
	runtime.Gosched()
	if r.onRun != nil {
		r.onRun(task.Name)
	}
	r.mu.Lock()
	r.runs = append(r.runs, task.Name)
	r.mu.Unlock()
	return &NodeResult{Fingerprint: fp, Err: r.fail[task.Name]}, nil
}

func (r *fakeRunner) Release(_ context.Context, task core.Task) error {
	r.mu.Lock()
	r.released = append(r.released, task.Name)
	r.mu.Unlock()
	return nil
}

// A -> C, B -> D, E independent.
func complexGraph(t *testing.T) *TaskGraph {
	t.Helper()
	g, err := Build([]core.Task{
		task("A", nil, []string{"a"}),
		task("B", nil, []string{"b"}),
		task("C", []string{"a"}, []string{"c"}),
		task("D", []string{"b"}, []string{"d"}),
		task("E", nil, []string{"e"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func TestExecutorSerial_RunsEverythingInOrder(t *testing.T) {
	g := complexGraph(t)
	runner := &fakeRunner{}
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A", "B", "E", "C", "D"}
	if !reflect.DeepEqual(res.ExecutionOrder, want) {
		t.Fatalf("expected order %v, got %v", want, res.ExecutionOrder)
	}
	for name, st := range res.FinalState {
		if st != TaskCompleted {
			t.Fatalf("expected %s COMPLETED, got %s", name, st)
		}
	}
	if res.Err() != nil {
		t.Fatalf("unexpected task errors: %v", res.Err())
	}
	if up := runner.ups["C"]; up["a"] != "fp:A" {
		t.Fatalf("C did not receive A's fingerprint: %v", up)
	}
}

func TestExecutorSerial_FailureSkipsDependentsOnly(t *testing.T) {
	g := complexGraph(t)
	cause := geoerr.Domainf("align.Align", "rasters do not overlap")
	runner := &fakeRunner{fail: map[string]error{"A": cause}}
	rec := trace.NewRecorder()
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exec.Sink = rec

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("task failure must not abort the run: %v", err)
	}
	if res.FinalState["A"] != TaskFailed || res.FinalState["C"] != TaskSkipped {
		t.Fatalf("unexpected states: %v", res.FinalState)
	}
	for _, n := range []string{"B", "D", "E"} {
		if res.FinalState[n] != TaskCompleted {
			t.Fatalf("expected %s COMPLETED, got %s", n, res.FinalState[n])
		}
	}
	if res.SkippedBy["C"] != "A" {
		t.Fatalf("expected C skipped by A, got %q", res.SkippedBy["C"])
	}
	if !errors.Is(res.Err(), geoerr.ErrDomain) {
		t.Fatalf("expected domain error in result, got %v", res.Err())
	}
	var te *TaskError
	if !errors.As(res.Err(), &te) || te.Task != "A" {
		t.Fatalf("expected failure attributed to A, got %v", res.Err())
	}

	var failed, skipped *trace.Event
	for _, e := range rec.Snapshot() {
		switch e.Kind {
		case trace.EventTaskFailed:
			failed = &e
		case trace.EventTaskSkipped:
			skipped = &e
		}
	}
	if failed == nil || failed.TaskID != "A" || failed.Reason != geoerr.ErrDomain.Error() {
		t.Fatalf("unexpected failure event %+v", failed)
	}
	if skipped == nil || skipped.TaskID != "C" || skipped.CauseTaskID != "A" {
		t.Fatalf("unexpected skip event %+v", skipped)
	}
}

func TestExecutor_CacheCheckErrorFailsTask(t *testing.T) {
	g := complexGraph(t)
	missing := geoerr.Inputf("core.Resolve", "inputs/dem.nc", "input not found")
	runner := &fakeRunner{checkErr: map[string]error{"B": missing}}
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalState["B"] != TaskFailed || res.FinalState["D"] != TaskSkipped {
		t.Fatalf("unexpected states: %v", res.FinalState)
	}
	for _, n := range runner.runs {
		if n == "B" {
			t.Fatalf("B must not run after its cache check failed")
		}
	}
}

func TestExecutor_CachedTasksAreNotRun(t *testing.T) {
	g := complexGraph(t)
	runner := &fakeRunner{cached: map[string]bool{"A": true, "C": true}}
	rec := trace.NewRecorder()
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exec.Sink = rec
	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(res.ExecutionOrder, []string{"B", "E", "D"}) {
		t.Fatalf("unexpected order %v", res.ExecutionOrder)
	}
	if res.FinalState["A"] != TaskCached || res.Fingerprints["A"] != "fp:A" {
		t.Fatalf("A should be cached with its fingerprint: %v %v", res.FinalState["A"], res.Fingerprints["A"])
	}
	cachedEvents := 0
	for _, e := range rec.Snapshot() {
		if e.Kind == trace.EventTaskCached {
			cachedEvents++
		}
	}
	if cachedEvents != 2 {
		t.Fatalf("expected 2 cached events, got %d", cachedEvents)
	}
}

func TestExecutor_EphemeralReleasedAfterLastConsumer(t *testing.T) {
	filled := task("fill", nil, []string{"intermediate/filled.nc"})
	filled.Ephemeral = true
	g, err := Build([]core.Task{
		filled,
		task("dir", []string{"intermediate/filled.nc"}, []string{"outputs/dir.nc"}),
		task("slope", []string{"intermediate/filled.nc"}, []string{"outputs/slope.nc"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu      sync.Mutex
		history []string
	)
	runner := &fakeRunner{}
	runner.onRun = func(name string) {
		mu.Lock()
		defer mu.Unlock()
		runner.mu.Lock()
		released := len(runner.released)
		runner.mu.Unlock()
		if released > 0 {
			history = append(history, name+" after release")
		}
	}
	exec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exec.RunSerial(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(runner.released, []string{"fill"}) {
		t.Fatalf("expected fill released once, got %v", runner.released)
	}
	if len(history) != 0 {
		t.Fatalf("consumers ran after release: %v", history)
	}
}

func TestExecutorParallel_MatchesSerial(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := complexGraph(t)
	serialExec, err := NewExecutor(g, &fakeRunner{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	serialRes, err := serialExec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := &fakeRunner{delay: map[string]time.Duration{"A": 2 * time.Millisecond, "B": time.Millisecond}}
	parExec, err := NewExecutor(g, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parRes, err := parExec.RunParallel(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parRes.GraphHash != serialRes.GraphHash {
		t.Fatalf("graph hash mismatch: %s vs %s", parRes.GraphHash, serialRes.GraphHash)
	}
	if !reflect.DeepEqual(parRes.ExecutionOrder, serialRes.ExecutionOrder) {
		t.Fatalf("order mismatch: serial=%v parallel=%v", serialRes.ExecutionOrder, parRes.ExecutionOrder)
	}
	if !reflect.DeepEqual(parRes.FinalState, serialRes.FinalState) {
		t.Fatalf("state mismatch: serial=%v parallel=%v", serialRes.FinalState, parRes.FinalState)
	}
	if len(runner.runs) != 5 {
		t.Fatalf("expected 5 runs, got %v", runner.runs)
	}
}

func TestExecutorParallel_TraceMatchesSerial(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := complexGraph(t)
	fail := map[string]error{"B": errors.New("boom")}

	serialRec := trace.NewRecorder()
	serialExec, _ := NewExecutor(g, &fakeRunner{fail: fail})
	serialExec.Sink = serialRec
	if _, err := serialExec.RunSerial(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parRec := trace.NewRecorder()
	parExec, _ := NewExecutor(g, &fakeRunner{fail: fail, delay: map[string]time.Duration{"A": time.Millisecond}})
	parExec.Sink = parRec
	if _, err := parExec.RunParallel(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h1, err := serialRec.Trace(string(g.Hash())).Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := parRec.Trace(string(g.Hash())).Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("trace hash differs between serial and parallel runs")
	}
}

func TestExecutor_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := complexGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{}
	runner.onRun = func(name string) {
		if name == "A" {
			cancel()
		}
	}

	exec, _ := NewExecutor(g, runner)
	if _, err := exec.RunSerial(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(runner.runs) != 1 {
		t.Fatalf("no task may start after cancellation, ran %v", runner.runs)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	exec2, _ := NewExecutor(g, &fakeRunner{})
	if _, err := exec2.RunParallel(ctx2, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestExecutor_InvalidConcurrency(t *testing.T) {
	exec, _ := NewExecutor(complexGraph(t), &fakeRunner{})
	if _, err := exec.RunParallel(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero workers")
	}
}
