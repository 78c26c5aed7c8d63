package dag

import (
	"reflect"
	"testing"

	"geoweaver/internal/core"
)

func TestTransition_Allowed(t *testing.T) {
	state := ExecutionState{"A": TaskPending}
	if err := Transition(state, "A", TaskPending, TaskRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Transition(state, "A", TaskRunning, TaskCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state["A"] != TaskCompleted {
		t.Fatalf("expected COMPLETED, got %s", state["A"])
	}
}

func TestTransition_Rejected(t *testing.T) {
	cases := []struct {
		cur, from, to TaskState
	}{
		{TaskPending, TaskPending, TaskCompleted},
		{TaskCompleted, TaskCompleted, TaskRunning},
		{TaskRunning, TaskPending, TaskRunning},
		{TaskCached, TaskCached, TaskFailed},
	}
	for _, c := range cases {
		state := ExecutionState{"A": c.cur}
		if err := Transition(state, "A", c.from, c.to); err == nil {
			t.Errorf("%s: %s -> %s should be rejected", c.cur, c.from, c.to)
		}
		if state["A"] != c.cur {
			t.Errorf("rejected transition mutated state to %s", state["A"])
		}
	}
	if err := Transition(ExecutionState{}, "ghost", TaskPending, TaskRunning); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestFailAndPropagate_SkipsTransitiveDependents(t *testing.T) {
	// A -> B -> D, A -> C, E independent.
	g, err := Build([]core.Task{
		task("A", nil, []string{"a"}),
		task("B", []string{"a"}, []string{"b"}),
		task("C", []string{"a"}, []string{"c"}),
		task("D", []string{"b"}, []string{"d"}),
		task("E", nil, []string{"e"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ExecutionState{"A": TaskRunning, "B": TaskPending, "C": TaskPending, "D": TaskPending, "E": TaskCompleted}

	skipped, err := FailAndPropagate(g, state, "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state["A"] != TaskFailed {
		t.Fatalf("expected A FAILED, got %s", state["A"])
	}
	for _, n := range []string{"B", "C", "D"} {
		if state[n] != TaskSkipped {
			t.Fatalf("expected %s SKIPPED, got %s", n, state[n])
		}
	}
	if state["E"] != TaskCompleted {
		t.Fatalf("independent task changed state: %s", state["E"])
	}
	got := map[string]bool{}
	for _, s := range skipped {
		got[s] = true
	}
	if !reflect.DeepEqual(got, map[string]bool{"B": true, "C": true, "D": true}) {
		t.Fatalf("unexpected skipped list %v", skipped)
	}
}

func TestFailAndPropagate_RunningDependentIsInvariantViolation(t *testing.T) {
	g, err := Build([]core.Task{task("A", nil, []string{"a"}), task("B", []string{"a"}, []string{"b"})})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ExecutionState{"A": TaskRunning, "B": TaskRunning}
	if _, err := FailAndPropagate(g, state, "A"); err == nil {
		t.Fatalf("expected invariant violation")
	}
}

func TestGetReadyTasks_OrderedByDepthThenName(t *testing.T) {
	g, err := Build([]core.Task{
		task("z", nil, []string{"z"}),
		task("a", nil, []string{"a"}),
		task("m", []string{"a"}, []string{"m"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ExecutionState{"z": TaskPending, "a": TaskPending, "m": TaskPending}
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []string{"a", "z"}) {
		t.Fatalf("unexpected ready list %v", got)
	}
	state["a"] = TaskCached
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []string{"z", "m"}) {
		t.Fatalf("unexpected ready list %v", got)
	}
	state["a"] = TaskFailed
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []string{"z"}) {
		t.Fatalf("failed dependency must block: %v", got)
	}
}
