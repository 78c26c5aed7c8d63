package dag

import (
	"container/heap"
	"slices"
)

// validateAcyclic runs Kahn's algorithm; when nodes are left over it extracts
// one cycle for the error message.
func (g *TaskGraph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a topological ordering of node indices. The ready
// queue is a min-heap by canonical index.
func (g *TaskGraph) topoOrderIndices() []int {
	indeg := slices.Clone(g.indeg)

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle walks the graph depth-first in canonical order and returns the
// first cycle it meets as a closed path of names (first == last).
func (g *TaskGraph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v closes v ... u -> v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	slices.Reverse(cycle)
	out := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		out = append(out, g.nodes[idx].Name)
	}
	return out
}
