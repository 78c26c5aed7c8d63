package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"geoweaver/internal/core"
	"geoweaver/internal/dag"
	"geoweaver/internal/models"
	"geoweaver/internal/runlog"
	"geoweaver/internal/trace"
	"geoweaver/internal/workspace"
)

// GraphExecutor is the minimal engine interface the CLI wires into.
//
// This allows the CLI to prove exit-code mapping (including panic) in tests
// without depending on specific executor internals.
type GraphExecutor interface {
	Run(ctx context.Context, graph *dag.TaskGraph, runner dag.TaskRunner, sink trace.Sink, workers int) (*dag.GraphResult, error)
}

type defaultGraphExecutor struct{}

func (defaultGraphExecutor) Run(ctx context.Context, graph *dag.TaskGraph, runner dag.TaskRunner, sink trace.Sink, workers int) (*dag.GraphResult, error) {
	exec, err := dag.NewExecutor(graph, runner)
	if err != nil {
		return nil, err
	}
	exec.Sink = sink
	if workers <= 1 {
		return exec.RunSerial(ctx)
	}
	return exec.RunParallel(ctx, workers)
}

type CLIResult struct {
	ExitCode    int
	RunID       string
	GraphResult *dag.GraphResult
	Summary     runlog.Summary
}

// Execute is the default entrypoint for running a canonical invocation.
func Execute(ctx context.Context, inv Invocation, logger *zap.Logger) (CLIResult, error) {
	return ExecuteWithExecutor(ctx, inv, logger, defaultGraphExecutor{})
}

// ExecuteWithExecutor maps a canonical Invocation to engine execution.
//
// Responsibilities:
//   - Resolve the configuration and open the workspace.
//   - Declare the model's graph and select the ledger for the mode.
//   - Record the run, its summary and its first failure under the workspace.
//   - Write the trace and metrics files, even on failure.
//   - Translate engine outcomes to semantic exit codes.
func ExecuteWithExecutor(ctx context.Context, inv Invocation, logger *zap.Logger, executor GraphExecutor) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if executor == nil {
		return res, fmt.Errorf("nil executor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := inv.Resolve()
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	ws, err := workspace.Open(cfg.Workspace, cfg.Suffix)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	// Initialize the run store as early as possible so failures can be recorded.
	st, err := ws.RunStore()
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	rec := runlog.NewRecorder(st)
	res.RunID = rec.NewRunID()
	logger = logger.With(zap.String("model", inv.Model), zap.String("run_id", res.RunID))

	events := trace.NewRecorder()
	registry := prometheus.NewRegistry()
	sink := trace.Multi{events, trace.NewZapSink(logger), trace.NewMetricsSink(registry)}
	defer func() {
		if inv.MetricsPath == "" {
			return
		}
		if err := writeMetrics(inv.MetricsPath, registry); err != nil {
			logger.Warn("Failed to write metrics", zap.String("path", inv.MetricsPath), zap.Error(err))
		}
	}()

	env := models.Env{Workspace: ws, Execution: cfg.Execution, Sink: sink}
	graph, err := BuildGraph(inv.Model, env, cfg)
	if err != nil {
		_ = rec.RecordFailure(res.RunID, err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	graphHash := graph.Hash().String()

	traceWriter, err := newTraceWriter(inv.TracePath, graphHash)
	if err != nil {
		_ = rec.RecordFailure(res.RunID, err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	defer func() {
		// Always finalize trace output deterministically.
		if err := traceWriter.Finalize(events); err != nil {
			logger.Warn("Failed to write trace", zap.String("path", inv.TracePath), zap.Error(err))
		}
	}()

	ledger, closeLedger, err := ledgerForMode(inv.Mode, ws, cfg.Execution.Ledger)
	if err != nil {
		_ = rec.RecordFailure(res.RunID, err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	defer func() {
		if err := closeLedger(); err != nil {
			logger.Warn("Failed to close ledger", zap.Error(err))
		}
	}()

	runner := core.NewRunner(ws.Root, ledger)
	runner.Locker = workspace.NewPathLocks()
	ledgerRunner, err := dag.NewLedgerRunner(runner)
	if err != nil {
		return res, err
	}

	run, err := rec.StartRun(runlog.Run{RunID: res.RunID, Model: inv.Model, GraphHash: graphHash, Suffix: ws.Suffix})
	if err != nil {
		return res, fmt.Errorf("recording run: %w", err)
	}
	logger.Info("Run started",
		zap.String("workspace", ws.Root),
		zap.String("graph_hash", graphHash),
		zap.Int("tasks", len(graph.Nodes())),
		zap.Int("workers", cfg.Execution.Workers))

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.GraphResult = nil
			execErr = fmt.Errorf("panic: %v", r)
			_ = rec.AbortRun(run, execErr)
		}
	}()

	gr, err := executor.Run(ctx, graph, ledgerRunner, sink, cfg.Execution.Workers)
	if err != nil {
		_ = rec.AbortRun(run, err)
		res.ExitCode = ExitInternalError
		return res, err
	}
	res.GraphResult = gr

	traceHash, err := events.Trace(graphHash).Hash()
	if err != nil {
		return res, err
	}
	summary, err := rec.FinishRun(run, gr, events.Warnings(), traceHash)
	if err != nil {
		return res, fmt.Errorf("recording summary: %w", err)
	}
	res.Summary = summary
	res.ExitCode = translateGraphResultToExitCode(gr)

	logger.Info("Run finished",
		zap.Int("rebuilt", len(summary.Rebuilt)),
		zap.Int("cached", len(summary.Cached)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("not_run", len(summary.NotRun)),
		zap.Int("warnings", summary.TotalWarnings()))
	if failed := firstFailedNode(gr); failed != "" {
		logger.Error("Task failed", zap.String("task", failed), zap.Error(gr.Errors[failed]))
	}
	return res, nil
}

// ledgerForMode returns the ledger the run consults. Clean runs use a fresh
// in-memory ledger so every task builds and nothing persists.
func ledgerForMode(mode ExecutionMode, ws *workspace.Workspace, kind string) (core.Ledger, func() error, error) {
	switch mode {
	case ExecutionModeClean:
		return core.NewMemoryLedger(), func() error { return nil }, nil
	case ExecutionModeIncremental, "":
		return ws.OpenLedger(kind)
	default:
		return nil, nil, fmt.Errorf("unknown execution mode: %q", mode)
	}
}

func firstFailedNode(gr *dag.GraphResult) string {
	if gr == nil || len(gr.FinalState) == 0 {
		return ""
	}
	names := make([]string, 0, len(gr.FinalState))
	for n := range gr.FinalState {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if gr.FinalState[n] == dag.TaskFailed {
			return n
		}
	}
	return ""
}

func translateGraphResultToExitCode(gr *dag.GraphResult) int {
	if gr == nil {
		return ExitInternalError
	}
	for _, st := range gr.FinalState {
		if st == dag.TaskFailed {
			return ExitGraphFailure
		}
	}
	return ExitSuccess
}

func writeMetrics(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	return prometheus.WriteToTextfile(path, g)
}

type traceFileWriter struct {
	enabled   bool
	path      string
	graphHash string
}

func newTraceWriter(path, graphHash string) (*traceFileWriter, error) {
	if path == "" {
		return &traceFileWriter{enabled: false}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	// Create an empty trace file eagerly so the destination is reserved and
	// so that even a panic results in a deterministic artifact.
	w := &traceFileWriter{enabled: true, path: path, graphHash: graphHash}
	return w, w.writeBytes(trace.ExecutionTrace{GraphHash: graphHash})
}

func (w *traceFileWriter) Finalize(events *trace.Recorder) error {
	if w == nil || !w.enabled {
		return nil
	}
	return w.writeBytes(events.Trace(w.graphHash))
}

func (w *traceFileWriter) writeBytes(t trace.ExecutionTrace) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	return writeFileAtomic(w.path, b, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
