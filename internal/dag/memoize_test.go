package dag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"geoweaver/internal/core"
	"geoweaver/internal/geoerr"
)

// pipeline is a four task graph over real files:
//
//	inputs/in1.txt -> A -> intermediate/a.txt -\
//	                                            C -> outputs/c.txt -> D -> outputs/d.txt
//	inputs/in2.txt -> B -> intermediate/b.txt -/
type pipeline struct {
	dir    string
	mu     sync.Mutex
	builds map[string]int
	failB  error
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{dir: t.TempDir(), builds: map[string]int{}}
	p.write(t, "inputs/in1.txt", "one")
	p.write(t, "inputs/in2.txt", "two")
	return p
}

func (p *pipeline) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(p.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (p *pipeline) concat(name string, out string, ins ...string) core.Task {
	return core.Task{
		Name:     name,
		Inputs:   ins,
		Outputs:  []string{out},
		Identity: "test.concat/1",
		Build: func(ctx context.Context) error {
			p.mu.Lock()
			p.builds[name]++
			failB := p.failB
			p.mu.Unlock()
			if name == "B" && failB != nil {
				return failB
			}
			var data []byte
			for _, in := range ins {
				b, err := os.ReadFile(filepath.Join(p.dir, in))
				if err != nil {
					return err
				}
				data = append(data, b...)
			}
			return os.WriteFile(filepath.Join(p.dir, out), data, 0o644)
		},
	}
}

func (p *pipeline) tasks() []core.Task {
	return []core.Task{
		p.concat("A", "intermediate/a.txt", "inputs/in1.txt"),
		p.concat("B", "intermediate/b.txt", "inputs/in2.txt"),
		p.concat("C", "outputs/c.txt", "intermediate/a.txt", "intermediate/b.txt"),
		p.concat("D", "outputs/d.txt", "outputs/c.txt"),
	}
}

func (p *pipeline) run(t *testing.T, tasks []core.Task) *GraphResult {
	t.Helper()
	ledger, err := core.OpenFileLedger(filepath.Join(p.dir, "ledger.json"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	lr, err := NewLedgerRunner(core.NewRunner(p.dir, ledger))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	exec, err := NewExecutor(g, lr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func TestMemoization_SecondRunRebuildsNothing(t *testing.T) {
	p := newPipeline(t)

	first := p.run(t, p.tasks())
	if first.Rebuilt() != 4 {
		t.Fatalf("expected 4 builds on first run, got %v", first.ExecutionOrder)
	}
	out, err := os.ReadFile(filepath.Join(p.dir, "outputs/d.txt"))
	if err != nil || string(out) != "onetwo" {
		t.Fatalf("unexpected final output %q (%v)", out, err)
	}

	second := p.run(t, p.tasks())
	if second.Rebuilt() != 0 {
		t.Fatalf("expected zero rebuilds, got %v", second.ExecutionOrder)
	}
	for name, st := range second.FinalState {
		if st != TaskCached {
			t.Fatalf("expected %s CACHED, got %s", name, st)
		}
	}
	if !reflect.DeepEqual(first.Fingerprints, second.Fingerprints) {
		t.Fatalf("fingerprints changed between identical runs")
	}
}

func TestMemoization_ChangedInputRebuildsDependentsOnly(t *testing.T) {
	p := newPipeline(t)
	p.run(t, p.tasks())

	p.write(t, "inputs/in1.txt", "uno")
	res := p.run(t, p.tasks())
	if !reflect.DeepEqual(res.ExecutionOrder, []string{"A", "C", "D"}) {
		t.Fatalf("expected A, C, D rebuilt, got %v", res.ExecutionOrder)
	}
	if res.FinalState["B"] != TaskCached {
		t.Fatalf("expected B cached, got %s", res.FinalState["B"])
	}
	out, _ := os.ReadFile(filepath.Join(p.dir, "outputs/d.txt"))
	if string(out) != "unotwo" {
		t.Fatalf("unexpected final output %q", out)
	}
}

func TestMemoization_ConfigChangeRebuilds(t *testing.T) {
	p := newPipeline(t)
	p.run(t, p.tasks())

	tasks := p.tasks()
	tasks[3].Config = map[string]string{"suffix": "_v2"}
	res := p.run(t, tasks)
	if !reflect.DeepEqual(res.ExecutionOrder, []string{"D"}) {
		t.Fatalf("expected only D rebuilt, got %v", res.ExecutionOrder)
	}
}

func TestMemoization_FailedTaskLeavesNoRecord(t *testing.T) {
	p := newPipeline(t)
	p.failB = geoerr.Domainf("test.concat", "empty area of interest")

	res := p.run(t, p.tasks())
	if res.FinalState["B"] != TaskFailed {
		t.Fatalf("expected B FAILED, got %s", res.FinalState["B"])
	}
	for _, n := range []string{"C", "D"} {
		if res.FinalState[n] != TaskSkipped {
			t.Fatalf("expected %s SKIPPED, got %s", n, res.FinalState[n])
		}
	}
	if !errors.Is(res.Err(), geoerr.ErrDomain) {
		t.Fatalf("expected domain failure, got %v", res.Err())
	}
	if _, err := os.Stat(filepath.Join(p.dir, "outputs/c.txt")); !os.IsNotExist(err) {
		t.Fatalf("skipped task produced output")
	}

	p.failB = nil
	again := p.run(t, p.tasks())
	if !reflect.DeepEqual(again.ExecutionOrder, []string{"B", "C", "D"}) {
		t.Fatalf("expected B, C, D on recovery run, got %v", again.ExecutionOrder)
	}
}

func TestMemoization_EphemeralIntermediate(t *testing.T) {
	p := newPipeline(t)
	tasks := p.tasks()
	tasks[0].Ephemeral = true

	first := p.run(t, tasks)
	if first.Rebuilt() != 4 {
		t.Fatalf("expected 4 builds, got %v", first.ExecutionOrder)
	}
	if _, err := os.Stat(filepath.Join(p.dir, "intermediate/a.txt")); !os.IsNotExist(err) {
		t.Fatalf("ephemeral output was not released")
	}

	// Nothing changed: the released intermediate stays released.
	second := p.run(t, tasks)
	if second.Rebuilt() != 0 {
		t.Fatalf("expected zero rebuilds, got %v", second.ExecutionOrder)
	}
	if second.FinalState["A"] != TaskCached {
		t.Fatalf("expected A CACHED, got %s", second.FinalState["A"])
	}
	if _, err := os.Stat(filepath.Join(p.dir, "intermediate/a.txt")); !os.IsNotExist(err) {
		t.Fatalf("released output was restored without a consumer")
	}
	if p.builds["A"] != 1 {
		t.Fatalf("expected A built once, got %d", p.builds["A"])
	}
}

func TestMemoization_ReleasedIntermediateRebuiltForConsumer(t *testing.T) {
	p := newPipeline(t)
	tasks := p.tasks()
	tasks[0].Ephemeral = true
	p.run(t, tasks)

	// C must run again, so A has to restore its file first. D stays cached
	// because C's fingerprint is unchanged.
	if err := os.Remove(filepath.Join(p.dir, "outputs/c.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res := p.run(t, tasks)
	if !reflect.DeepEqual(res.ExecutionOrder, []string{"A", "C"}) {
		t.Fatalf("expected A, C rebuilt, got %v", res.ExecutionOrder)
	}
	out, err := os.ReadFile(filepath.Join(p.dir, "outputs/c.txt"))
	if err != nil || string(out) != "onetwo" {
		t.Fatalf("unexpected restored output %q (%v)", out, err)
	}
	if _, err := os.Stat(filepath.Join(p.dir, "intermediate/a.txt")); !os.IsNotExist(err) {
		t.Fatalf("ephemeral output was not released again")
	}

	p.write(t, "inputs/in1.txt", "uno")
	changed := p.run(t, tasks)
	if !reflect.DeepEqual(changed.ExecutionOrder, []string{"A", "C", "D"}) {
		t.Fatalf("expected A, C, D rebuilt, got %v", changed.ExecutionOrder)
	}
}

func TestMemoization_ReleasedIntermediateParallel(t *testing.T) {
	p := newPipeline(t)
	tasks := p.tasks()
	tasks[0].Ephemeral = true
	tasks[1].Ephemeral = true

	ledger, err := core.OpenFileLedger(filepath.Join(p.dir, "ledger.json"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	lr, err := NewLedgerRunner(core.NewRunner(p.dir, ledger))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	exec, err := NewExecutor(g, lr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []int{4, 0} {
		res, err := exec.RunParallel(context.Background(), 2)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Rebuilt() != want {
			t.Fatalf("run %d: expected %d rebuilds, got %v", i, want, res.ExecutionOrder)
		}
	}
}
