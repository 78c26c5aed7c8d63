package dag

import (
	"errors"
	"fmt"
	"strings"

	"geoweaver/internal/geoerr"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycleFound   = errors.New("cycle detected")
)

// GraphError is a registration failure. Nothing has run when it is returned.
//
// Kind is ErrInvalidGraph or ErrCycleFound. The error also matches the
// geoerr kind a model author acts on: a broken declaration (duplicate name or
// output, unknown After, empty graph) is geoerr.ErrInput, a cycle is
// geoerr.ErrInvariant. Tasks lists the task names involved, in cycle order
// for a cycle.
type GraphError struct {
	Kind  error
	Tasks []string
	Msg   string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() []error { return []error{e.Kind, e.class()} }

func (e *GraphError) class() error {
	if e.Kind == ErrCycleFound {
		return geoerr.ErrInvariant
	}
	return geoerr.ErrInput
}

func invalidf(tasks []string, format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Tasks: tasks, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Tasks: path, Msg: msg}
}
