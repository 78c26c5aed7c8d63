package dag

import (
	"container/heap"
	"fmt"
)

// IsTerminal reports whether the state is final for this attempt.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCached:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	return s == TaskCompleted || s == TaskCached
}

// Transition performs a validated transition for a single task. The caller
// supplies the expected prior state so races surface as errors.
func Transition(state ExecutionState, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskCached || to == TaskSkipped
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate moves taskName from RUNNING to FAILED and marks every
// PENDING task reachable from it as SKIPPED. It returns the newly skipped
// names in canonical order.
//
// A downstream task found RUNNING is an invariant violation: it means a
// consumer was started before its producer finished.
func FailAndPropagate(g *TaskGraph, state ExecutionState, taskName string) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[taskName]
	if !ok {
		return nil, fmt.Errorf("unknown task: %q", taskName)
	}

	switch cur := state[taskName]; cur {
	case TaskRunning:
		state[taskName] = TaskFailed
	case TaskFailed:
	default:
		return nil, fmt.Errorf("cannot fail %q from state %s", taskName, cur)
	}

	visited := make([]bool, len(g.nodes))
	visited[node.canonicalIndex] = true

	hq := &intMinHeap{}
	for _, d := range g.outgoing[node.canonicalIndex] {
		heap.Push(hq, d)
	}

	var skipped []string
	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		name := g.nodes[u].Name
		switch st := state[name]; st {
		case TaskPending:
			state[name] = TaskSkipped
			skipped = append(skipped, name)
		case TaskRunning:
			return skipped, fmt.Errorf("invariant violation: downstream task %q is RUNNING during failure propagation", name)
		case "":
			return skipped, fmt.Errorf("missing state for %q", name)
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return skipped, nil
}
