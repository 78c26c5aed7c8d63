package dag

import "sort"

// GetReadyTasks returns the task names eligible to run: PENDING with every
// dependency COMPLETED or CACHED. The list is sorted by (depth, name).
//
// It does not mutate graph or state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	var ready []string
	for _, node := range g.nodes {
		if state[node.Name] != TaskPending {
			continue
		}
		if g.dependenciesSucceeded(node.canonicalIndex, state) {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})
	return ready
}

func (g *TaskGraph) dependenciesSucceeded(idx int, state ExecutionState) bool {
	for _, p := range g.incoming[idx] {
		if !IsSuccessful(state[g.nodes[p].Name]) {
			return false
		}
	}
	return true
}
