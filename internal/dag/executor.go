package dag

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"geoweaver/internal/core"
	"geoweaver/internal/geoerr"
	"geoweaver/internal/trace"
)

// TaskRunner runs single tasks for the executor.
//
// Probe computes the fingerprint of task given the fingerprints of its
// upstream producers and reports whether the task is up to date. The result is
// non-nil whenever err is nil. A Probe error fails the task.
//
// Run executes the build. A build failure is returned in NodeResult.Err and
// fails the task; a non-nil error is an infrastructure failure and aborts the
// run.
//
// Release removes the outputs of an ephemeral task once every consumer has
// finished.
type TaskRunner interface {
	Probe(ctx context.Context, task core.Task, up core.Upstream) (*NodeResult, bool, error)
	Run(ctx context.Context, task core.Task, fp core.Fingerprint) (*NodeResult, error)
	Release(ctx context.Context, task core.Task) error
}

// Executor runs a TaskGraph. An Executor may be run several times; each run
// starts from all-PENDING.
type Executor struct {
	Graph  *TaskGraph
	Runner TaskRunner

	// Sink receives one event per decision. Nil discards.
	Sink trace.Sink

	mu        sync.Mutex
	state     ExecutionState
	fps       map[string]core.Fingerprint
	errs      map[string]error
	skippedBy map[string]string
	order     []string
	remaining []int // unsettled consumers by canonical index
	released  []bool
	dormant   []bool // released ephemeral tasks no consumer needs this run
}

// NewExecutor creates an executor with all nodes initialized to PENDING.
func NewExecutor(g *TaskGraph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	e := &Executor{Graph: g, Runner: runner}
	e.reset()
	return e, nil
}

func (e *Executor) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.Graph.nodes)
	e.state = make(ExecutionState, n)
	for _, node := range e.Graph.nodes {
		e.state[node.Name] = TaskPending
	}
	e.fps = make(map[string]core.Fingerprint, n)
	e.errs = make(map[string]error)
	e.skippedBy = make(map[string]string)
	e.order = make([]string, 0, n)
	e.remaining = make([]int, n)
	for i := range e.remaining {
		e.remaining[i] = len(e.Graph.outgoing[i])
	}
	e.released = make([]bool, n)
	e.dormant = make([]bool, n)
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.state)
}

func (e *Executor) result() *GraphResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     maps.Clone(e.state),
		ExecutionOrder: slices.Clone(e.order),
		Fingerprints:   maps.Clone(e.fps),
		Errors:         maps.Clone(e.errs),
		SkippedBy:      maps.Clone(e.skippedBy),
	}
}

// RunSerial executes one task at a time, always the first of GetReadyTasks.
//
// Task failures do not abort the run: the failed task's dependents are marked
// SKIPPED and independent branches still run. The returned error is reserved
// for cancellation and runner infrastructure failures.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.reset()
	e.mu.Lock()
	e.planLocked(ctx)
	e.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}

		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)
		if len(ready) == 0 {
			done := e.allTerminalLocked()
			e.mu.Unlock()
			if done {
				return e.result(), nil
			}
			return nil, fmt.Errorf("no ready tasks but graph not finished")
		}

		node := e.Graph.nodesByName[ready[0]]
		fp, run, err := e.admitLocked(ctx, node)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if !run {
			continue
		}

		res, err := e.runTask(ctx, node, fp)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		err = e.finishLocked(ctx, node, res)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

type workItem struct {
	node *TaskNode
	fp   core.Fingerprint
}

type workResult struct {
	node   *TaskNode
	result *NodeResult
	err    error
}

// RunParallel executes the graph using up to concurrency workers.
//
// Dispatch is staged by topological depth and, within a depth, by task name,
// so ExecutionOrder matches RunSerial. Probing and state changes happen on the
// coordinating goroutine under e.mu; builds run on the workers.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}
	e.reset()
	e.mu.Lock()
	e.planLocked(ctx)
	e.mu.Unlock()

	maxDepth := 0
	for _, d := range e.Graph.depth {
		maxDepth = max(maxDepth, d)
	}
	byDepth := make([][]string, maxDepth+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.runTask(ctx, w.node, w.fp)
				doneCh <- workResult{node: w.node, result: res, err: err}
			}
		}()
	}
	fail := func(err error) (*GraphResult, error) {
		stopWorkers()
		return nil, err
	}

	inFlight := 0
	for depth := 0; depth <= maxDepth; depth++ {
		names := byDepth[depth]
		next := 0

		for {
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("execution cancelled: %w", err))
			}

			e.mu.Lock()
			for inFlight < concurrency && next < len(names) {
				name := names[next]
				next++
				node := e.Graph.nodesByName[name]

				st := e.state[name]
				if IsTerminal(st) {
					// Skipped by an earlier failure.
					continue
				}
				if st != TaskPending {
					e.mu.Unlock()
					return fail(fmt.Errorf("unexpected non-pending state for %q: %s", name, st))
				}
				if !e.Graph.dependenciesSucceeded(node.canonicalIndex, e.state) {
					e.mu.Unlock()
					return fail(fmt.Errorf("task %q at depth %d is pending but dependencies are not successful", name, depth))
				}

				fp, run, err := e.admitLocked(ctx, node)
				if err != nil {
					e.mu.Unlock()
					return fail(err)
				}
				if run {
					inFlight++
					workCh <- workItem{node: node, fp: fp}
				}
			}
			stageDone := next >= len(names) && inFlight == 0
			e.mu.Unlock()
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				return fail(fmt.Errorf("execution cancelled: %w", ctx.Err()))
			case r := <-doneCh:
				inFlight--
				if r.err != nil {
					return fail(r.err)
				}
				e.mu.Lock()
				err := e.finishLocked(ctx, r.node, r.result)
				e.mu.Unlock()
				if err != nil {
					return fail(err)
				}
			}
		}
	}

	stopWorkers()
	return e.result(), nil
}

func (e *Executor) runTask(ctx context.Context, node *TaskNode, fp core.Fingerprint) (*NodeResult, error) {
	start := time.Now()
	res, err := e.Runner.Run(ctx, node.Task, fp)
	if err != nil {
		return nil, fmt.Errorf("executing %q: %w", node.Name, err)
	}
	if res == nil {
		return nil, fmt.Errorf("executing %q: nil result", node.Name)
	}
	if res.Elapsed == 0 {
		res.Elapsed = time.Since(start)
	}
	return res, nil
}

func (e *Executor) emit(ev trace.Event) { trace.SafeRecord(e.Sink, ev) }

func (e *Executor) allTerminalLocked() bool {
	for _, st := range e.state {
		if !IsTerminal(st) {
			return false
		}
	}
	return true
}

// upstreamLocked maps the inputs of node that other tasks produce, and its
// After dependencies, to the producers' fingerprints in this run.
func (e *Executor) upstreamLocked(node *TaskNode) core.Upstream {
	return e.Graph.upstream(node, e.fps)
}

func (g *TaskGraph) upstream(node *TaskNode, fps map[string]core.Fingerprint) core.Upstream {
	up := make(core.Upstream)
	for _, in := range node.Task.Inputs {
		if p, ok := g.producers[cleanPath(in)]; ok {
			up[in] = fps[g.nodes[p].Name]
		}
	}
	for _, a := range node.Task.After {
		up[core.TaskRef(a)] = fps[a]
	}
	return up
}

// planLocked decides, before anything runs, which released ephemeral tasks
// can stay released. Every task is checked against the cache in topological
// order; walking back from the sinks, a released task is needed when any
// consumer will run. Cache check errors are left to admission, which fails
// the task.
func (e *Executor) planLocked(ctx context.Context) {
	if !slices.ContainsFunc(e.Graph.nodes, func(n *TaskNode) bool { return n.Task.Ephemeral }) {
		return
	}
	order := e.Graph.topoOrderIndices()
	fps := make(map[string]core.Fingerprint, len(order))
	runs := make([]bool, len(e.Graph.nodes))
	released := make([]bool, len(e.Graph.nodes))
	for _, idx := range order {
		node := e.Graph.nodes[idx]
		res, cached, err := e.Runner.Probe(ctx, node.Task, e.Graph.upstream(node, fps))
		if err != nil || res == nil {
			runs[idx] = true
			continue
		}
		fps[node.Name] = res.Fingerprint
		runs[idx] = !cached
		released[idx] = !cached && res.Released
	}
	for i := len(order) - 1; i >= 0; i-- {
		idx := order[i]
		if !released[idx] {
			continue
		}
		needed := slices.ContainsFunc(e.Graph.outgoing[idx], func(c int) bool { return runs[c] })
		runs[idx] = needed
		e.dormant[idx] = !needed
	}
}

// admitLocked checks the cache for a PENDING task whose dependencies
// succeeded. It returns run=true with the fingerprint to build under when the task must execute;
// otherwise the task has already been settled as CACHED or FAILED.
func (e *Executor) admitLocked(ctx context.Context, node *TaskNode) (core.Fingerprint, bool, error) {
	name := node.Name
	res, cached, err := e.Runner.Probe(ctx, node.Task, e.upstreamLocked(node))
	if err == nil && res == nil {
		err = fmt.Errorf("probing %q: nil result", name)
	}
	if err != nil {
		if terr := Transition(e.state, name, TaskPending, TaskRunning); terr != nil {
			return "", false, terr
		}
		return "", false, e.failLocked(ctx, node, err, 0)
	}

	reason := trace.ReasonUpToDate
	if !cached && res.Released && e.dormant[node.canonicalIndex] {
		cached, reason = true, trace.ReasonReleased
		e.released[node.canonicalIndex] = true
	}
	if cached {
		if err := Transition(e.state, name, TaskPending, TaskCached); err != nil {
			return "", false, err
		}
		e.fps[name] = res.Fingerprint
		e.emit(trace.Event{
			Kind:        trace.EventTaskCached,
			TaskID:      name,
			Reason:      reason,
			Fingerprint: res.Fingerprint.String(),
			Artifacts:   node.Task.Outputs,
		})
		return "", false, e.settleLocked(ctx, node)
	}

	if err := Transition(e.state, name, TaskPending, TaskRunning); err != nil {
		return "", false, err
	}
	e.order = append(e.order, name)
	e.emit(trace.Event{Kind: trace.EventTaskStarted, TaskID: name, Fingerprint: res.Fingerprint.String()})
	return res.Fingerprint, true, nil
}

func (e *Executor) finishLocked(ctx context.Context, node *TaskNode, res *NodeResult) error {
	if res.Err != nil {
		return e.failLocked(ctx, node, res.Err, res.Elapsed)
	}
	if err := Transition(e.state, node.Name, TaskRunning, TaskCompleted); err != nil {
		return err
	}
	e.fps[node.Name] = res.Fingerprint
	e.emit(trace.Event{
		Kind:        trace.EventTaskFinished,
		TaskID:      node.Name,
		Fingerprint: res.Fingerprint.String(),
		Artifacts:   node.Task.Outputs,
		Elapsed:     res.Elapsed,
	})
	return e.settleLocked(ctx, node)
}

// failLocked marks a RUNNING task FAILED and its dependents SKIPPED.
func (e *Executor) failLocked(ctx context.Context, node *TaskNode, cause error, elapsed time.Duration) error {
	name := node.Name
	e.errs[name] = cause
	e.emit(trace.Event{
		Kind:    trace.EventTaskFailed,
		TaskID:  name,
		Reason:  failureReason(cause),
		Detail:  cause.Error(),
		Elapsed: elapsed,
	})

	skipped, err := FailAndPropagate(e.Graph, e.state, name)
	if err != nil {
		return err
	}
	if err := e.settleLocked(ctx, node); err != nil {
		return err
	}
	for _, s := range skipped {
		e.skippedBy[s] = name
		e.emit(trace.Event{Kind: trace.EventTaskSkipped, TaskID: s, Reason: trace.ReasonUpstreamFailed, CauseTaskID: name})
		if err := e.settleLocked(ctx, e.Graph.nodesByName[s]); err != nil {
			return err
		}
	}
	return nil
}

func failureReason(err error) string {
	if k := geoerr.Kind(err); k != nil {
		return k.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// settleLocked runs once per task when it reaches a terminal state.
func (e *Executor) settleLocked(ctx context.Context, node *TaskNode) error {
	idx := node.canonicalIndex
	for _, p := range e.Graph.incoming[idx] {
		e.remaining[p]--
		if err := e.releaseLocked(ctx, p); err != nil {
			return err
		}
	}
	return e.releaseLocked(ctx, idx)
}

// releaseLocked removes the outputs of a successful ephemeral task once all
// of its consumers have settled.
func (e *Executor) releaseLocked(ctx context.Context, idx int) error {
	node := e.Graph.nodes[idx]
	if !node.Task.Ephemeral || e.released[idx] || e.remaining[idx] > 0 || !IsSuccessful(e.state[node.Name]) {
		return nil
	}
	e.released[idx] = true
	if err := e.Runner.Release(ctx, node.Task); err != nil {
		return fmt.Errorf("releasing outputs of %q: %w", node.Name, err)
	}
	e.emit(trace.Event{Kind: trace.EventTaskReleased, TaskID: node.Name, Artifacts: node.Task.Outputs})
	return nil
}
