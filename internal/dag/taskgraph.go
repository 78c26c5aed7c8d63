package dag

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"

	"geoweaver/internal/core"
)

type edgeIndex struct {
	from int
	to   int
}

// TaskGraph is an immutable, validated DAG. It is safe for concurrent reads.
type TaskGraph struct {
	nodesByName map[string]*TaskNode
	nodes       []*TaskNode // canonical order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // by canonical index (topological depth)

	// producers maps a cleaned output path to the canonical index of the task
	// that writes it.
	producers map[string]int

	hash GraphHash
}

// Build registers tasks and infers their dependencies: a task that reads a
// path another task writes depends on that task, and every name in After is
// an explicit dependency. Input paths are matched literally after
// filepath.Clean; glob inputs never create edges.
//
// Registration fails with ErrInvalidGraph or ErrCycleFound before any task
// runs.
func Build(tasks []core.Task) (*TaskGraph, error) {
	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			return nil, invalidf([]string{tasks[i].Name}, "%v", err)
		}
	}
	producer, err := indexOutputs(tasks)
	if err != nil {
		return nil, err
	}

	var edges []Edge
	seen := make(map[Edge]struct{})
	add := func(e Edge) {
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}
	for _, t := range tasks {
		for _, in := range t.Inputs {
			if from, ok := producer[cleanPath(in)]; ok {
				add(Edge{From: from, To: t.Name})
			}
		}
		for _, a := range t.After {
			add(Edge{From: a, To: t.Name})
		}
	}
	return NewTaskGraph(tasks, edges)
}

// NewTaskGraph builds and validates a TaskGraph from explicit edges.
//
// Validation runs immediately and rejects:
//   - empty or duplicate task names
//   - two tasks declaring the same output path
//   - edges referencing unknown tasks
//   - duplicate edges
//   - self-loops
//   - any cycle (direct or indirect)
func NewTaskGraph(tasks []core.Task, edges []Edge) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, invalidf(nil, "no tasks")
	}

	nodesByName := make(map[string]*TaskNode, len(tasks))
	nodes := make([]*TaskNode, 0, len(tasks))

	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidf(nil, "task name is required")
		}
		if _, exists := nodesByName[t.Name]; exists {
			return nil, invalidf([]string{t.Name}, "duplicate task name: %q", t.Name)
		}
		node := &TaskNode{Name: t.Name, Task: t, DefinitionHash: computeTaskDefHash(t)}
		nodesByName[t.Name] = node
		nodes = append(nodes, node)
	}
	producerName, err := indexOutputs(tasks)
	if err != nil {
		return nil, err
	}

	// Canonical order: definition hash, then name.
	sort.Slice(nodes, func(i, j int) bool {
		ai, aj := nodes[i], nodes[j]
		if ai.DefinitionHash != aj.DefinitionHash {
			return ai.DefinitionHash < aj.DefinitionHash
		}
		return ai.Name < aj.Name
	})
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromNode, okFrom := nodesByName[e.From]
		toNode, okTo := nodesByName[e.To]
		if !okFrom {
			return nil, invalidf([]string{e.To}, "edge references unknown task (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf([]string{e.From}, "edge references unknown task (to): %q", e.To)
		}
		if fromNode == toNode {
			return nil, invalidf([]string{e.From}, "self-loop: %q -> %q", e.From, e.To)
		}

		pair := edgeIndex{from: fromNode.canonicalIndex, to: toNode.canonicalIndex}
		if _, exists := seen[pair]; exists {
			return nil, invalidf([]string{e.From, e.To}, "duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
		sort.Ints(incoming[i])
	}

	producers := make(map[string]int, len(producerName))
	for p, name := range producerName {
		producers[p] = nodesByName[name].canonicalIndex
	}

	g := &TaskGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
		producers:   producers,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

func indexOutputs(tasks []core.Task) (map[string]string, error) {
	producer := make(map[string]string)
	for _, t := range tasks {
		for _, out := range t.Outputs {
			p := cleanPath(out)
			if prev, ok := producer[p]; ok && prev != t.Name {
				return nil, invalidf([]string{prev, t.Name}, "output %q is declared by both %q and %q", out, prev, t.Name)
			}
			producer[p] = t.Name
		}
	}
	return producer, nil
}

func cleanPath(p string) string { return filepath.ToSlash(filepath.Clean(p)) }

// Hash returns the stable identity for this graph.
func (g *TaskGraph) Hash() GraphHash { return g.hash }

// Node returns a node by name.
func (g *TaskGraph) Node(name string) (*TaskNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *TaskGraph) Nodes() []*TaskNode {
	out := make([]*TaskNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical order.
func (g *TaskGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Producer returns the name of the task that writes path.
func (g *TaskGraph) Producer(path string) (string, bool) {
	idx, ok := g.producers[cleanPath(path)]
	if !ok {
		return "", false
	}
	return g.nodes[idx].Name, true
}

// Dependents returns the names of every task transitively downstream of name,
// sorted.
func (g *TaskGraph) Dependents(name string) []string {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil
	}
	visited := make([]bool, len(g.nodes))
	stack := append([]int(nil), g.outgoing[n.canonicalIndex]...)
	var out []string
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[u] {
			continue
		}
		visited[u] = true
		out = append(out, g.nodes[u].Name)
		stack = append(stack, g.outgoing[u]...)
	}
	sort.Strings(out)
	return out
}

// Depth returns the topological depth of a node: the length of the longest
// path from any root to it.
func (g *TaskGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

func (g *TaskGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		maxParent := 0
		for _, p := range g.incoming[u] {
			maxParent = max(maxParent, depth[p]+1)
		}
		depth[u] = maxParent
	}
	return depth
}

// TopologicalOrder returns a deterministic topological ordering of task names.
func (g *TaskGraph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

func (g *TaskGraph) computeGraphHash() GraphHash {
	h := sha256.New()

	writeCount(h, len(g.nodes))
	for _, n := range g.nodes {
		writeField(h, []byte(n.DefinitionHash))
	}

	writeCount(h, len(g.edges))
	for _, e := range g.edges {
		writeCount(h, e.from)
		writeCount(h, e.to)
	}

	return GraphHash(hex.EncodeToString(h.Sum(nil)))
}
