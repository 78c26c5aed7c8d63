package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"geoweaver/internal/dag"
	"geoweaver/internal/runlog"
	"geoweaver/internal/trace"
	"geoweaver/internal/workspace"
)

type panicExecutor struct{}

func (panicExecutor) Run(context.Context, *dag.TaskGraph, dag.TaskRunner, trace.Sink, int) (*dag.GraphResult, error) {
	panic("boom")
}

const testParams = `class,survnatural,vulnfishing,maturity
juvenile,0.9,0,0
adult,0.8,1,1

region,exploitationfraction,larvaldispersal
north,0.1,0.5
south,0.2,0.5
`

const testMigration = `region,north,south
north,0.9,0.1
south,0.1,0.9
`

// fisheriesInvocation writes a small population model configuration and
// returns an invocation running it in a fresh workspace.
func fisheriesInvocation(t *testing.T, migrationClass string) Invocation {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("params.csv", testParams)
	write("migration.csv", testMigration)
	write("run.yaml", `
workspace: ws
fisheries:
  params: params.csv
  recruitment: fixed
  fixed_recruits: 1000
  initial_recruits: 1000
  timesteps: 5
  migration:
    `+migrationClass+`: migration.csv
`)
	return Invocation{
		Model:      "fisheries",
		ConfigPath: filepath.Join(dir, "run.yaml"),
		Mode:       ExecutionModeIncremental,
	}
}

func workspaceOf(inv Invocation) string {
	return filepath.Join(filepath.Dir(inv.ConfigPath), "ws")
}

func store(t *testing.T, inv Invocation) *runlog.Store {
	t.Helper()
	st, err := runlog.NewStore(filepath.Join(workspaceOf(inv), workspace.MetaDir))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return st
}

func TestExecute_SuccessRecordsRun(t *testing.T) {
	inv := fisheriesInvocation(t, "adult")
	inv.TracePath = filepath.Join(t.TempDir(), "trace.json")
	inv.MetricsPath = filepath.Join(t.TempDir(), "metrics.prom")

	res, err := Execute(context.Background(), inv, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != ExitSuccess {
		t.Fatalf("expected exit %d got %d", ExitSuccess, res.ExitCode)
	}
	if got := res.Summary.Rebuilt; len(got) != 1 || got[0] != "population" {
		t.Fatalf("expected population rebuilt, got %v", got)
	}

	run, err := store(t, inv).LoadRun(res.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.Status != runlog.StatusSucceeded || run.Model != "fisheries" || run.EndTime == nil {
		t.Fatalf("unexpected run record: %+v", run)
	}
	if run.GraphHash != res.GraphResult.GraphHash.String() {
		t.Fatalf("graph hash mismatch: %s vs %s", run.GraphHash, res.GraphResult.GraphHash)
	}

	for _, out := range []string{"population_summary.csv", "cohorts.csv"} {
		if _, err := os.Stat(filepath.Join(workspaceOf(inv), workspace.OutputsDir, out)); err != nil {
			t.Fatalf("expected %s: %v", out, err)
		}
	}

	b, err := os.ReadFile(inv.TracePath)
	if err != nil {
		t.Fatalf("expected trace file: %v", err)
	}
	var decoded struct {
		GraphHash string           `json:"graphHash"`
		Events    []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("trace JSON: %v", err)
	}
	if decoded.GraphHash != run.GraphHash || len(decoded.Events) == 0 {
		t.Fatalf("unexpected trace: %s", b)
	}

	m, err := os.ReadFile(inv.MetricsPath)
	if err != nil {
		t.Fatalf("expected metrics file: %v", err)
	}
	if !strings.Contains(string(m), `geoweaver_task_events_total{kind="TaskFinished"} 1`) {
		t.Fatalf("metrics missing finished counter:\n%s", m)
	}
}

func TestExecute_SecondRunIsCached(t *testing.T) {
	inv := fisheriesInvocation(t, "adult")
	first, err := Execute(context.Background(), inv, nil)
	if err != nil || first.ExitCode != ExitSuccess {
		t.Fatalf("first run: exit=%d err=%v", first.ExitCode, err)
	}
	second, err := Execute(context.Background(), inv, nil)
	if err != nil || second.ExitCode != ExitSuccess {
		t.Fatalf("second run: exit=%d err=%v", second.ExitCode, err)
	}
	if len(second.Summary.Rebuilt) != 0 {
		t.Fatalf("expected nothing rebuilt, got %v", second.Summary.Rebuilt)
	}
	if got := second.Summary.Cached; len(got) != 1 || got[0] != "population" {
		t.Fatalf("expected population cached, got %v", got)
	}
	if first.Summary.TraceHash == second.Summary.TraceHash {
		t.Fatalf("cached and rebuilt runs must not share a trace hash")
	}
	if first.RunID == second.RunID {
		t.Fatalf("run ids must differ")
	}
}

func TestExecute_CleanModeIgnoresLedger(t *testing.T) {
	inv := fisheriesInvocation(t, "adult")
	inv.Mode = ExecutionModeClean
	for i := range 2 {
		res, err := Execute(context.Background(), inv, nil)
		if err != nil || res.ExitCode != ExitSuccess {
			t.Fatalf("run %d: exit=%d err=%v", i, res.ExitCode, err)
		}
		if len(res.Summary.Rebuilt) != 1 {
			t.Fatalf("run %d: expected a rebuild, got %v", i, res.Summary.Rebuilt)
		}
	}
	if _, err := os.Stat(filepath.Join(workspaceOf(inv), workspace.MetaDir, "ledger.json")); !os.IsNotExist(err) {
		t.Fatalf("clean runs must not write the ledger, stat err=%v", err)
	}
}

func TestExecute_ExitCodeGraphFailureRecordsFailure(t *testing.T) {
	inv := fisheriesInvocation(t, "larva")
	res, err := Execute(context.Background(), inv, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != ExitGraphFailure {
		t.Fatalf("expected exit %d got %d", ExitGraphFailure, res.ExitCode)
	}

	st := store(t, inv)
	f, err := st.LoadFailure(res.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != runlog.FailureClassInput || f.TaskID == nil || *f.TaskID != "population" {
		t.Fatalf("unexpected failure: %+v", f)
	}
	if !strings.Contains(f.ErrorMessage, "larva") {
		t.Fatalf("failure message should name the class: %q", f.ErrorMessage)
	}
	run, err := st.LoadRun(res.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.Status != runlog.StatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
}

func TestExecute_ConfigErrorForIncompleteModel(t *testing.T) {
	inv := Invocation{Model: "carbon", Workspace: t.TempDir(), Mode: ExecutionModeIncremental}
	res, err := Execute(context.Background(), inv, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitConfigError {
		t.Fatalf("expected exit %d got %d", ExitConfigError, res.ExitCode)
	}
}

func TestExecute_Panic_ExitCodeInternalAndTraceFinalized(t *testing.T) {
	inv := fisheriesInvocation(t, "adult")
	inv.TracePath = filepath.Join(t.TempDir(), "trace.json")

	res, err := ExecuteWithExecutor(context.Background(), inv, nil, panicExecutor{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitInternalError {
		t.Fatalf("expected exit %d got %d", ExitInternalError, res.ExitCode)
	}

	b, err := os.ReadFile(inv.TracePath)
	if err != nil {
		t.Fatalf("expected trace file exists: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("expected trace JSON: %v", err)
	}
	if decoded["graphHash"] == "" {
		t.Fatalf("expected graphHash in trace")
	}

	f, err := store(t, inv).LoadFailure(res.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != runlog.FailureClassSystem {
		t.Fatalf("expected system failure, got %+v", f)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	inv := fisheriesInvocation(t, "adult")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Execute(ctx, inv, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitInternalError {
		t.Fatalf("expected exit %d got %d", ExitInternalError, res.ExitCode)
	}
	run, lerr := store(t, inv).LoadRun(res.RunID)
	if lerr != nil {
		t.Fatalf("LoadRun: %v", lerr)
	}
	if run.Status != runlog.StatusCancelled {
		t.Fatalf("expected cancelled run, got %s", run.Status)
	}
}
