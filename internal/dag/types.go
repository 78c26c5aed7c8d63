package dag

import "geoweaver/internal/core"

// GraphHash is the deterministic identity of a TaskGraph. It is computed from
// task definitions and dependency structure only, so it is stable across
// insertion orders.
type GraphHash string

// TaskDefHash identifies a task definition: identity, configuration and
// declared paths. It differs from core.Fingerprint, which also covers input
// content.
type TaskDefHash string

// Edge represents a dependency: To runs only after From succeeded.
type Edge struct {
	From string
	To   string
}

// TaskNode is an immutable node in the TaskGraph.
type TaskNode struct {
	Name           string
	Task           core.Task
	DefinitionHash TaskDefHash
	canonicalIndex int
}

// CanonicalIndex returns the node's position in the graph's canonical ordering.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }

func (h GraphHash) String() string { return string(h) }

func (h TaskDefHash) String() string { return string(h) }
