package runlog

import (
	"context"
	"errors"

	"geoweaver/internal/dag"
	"geoweaver/internal/geoerr"
)

// FailureFromError classifies err. Task failures keep the task name; errors
// from the primitives keep the offending path.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}
	f := Failure{ErrorMessage: err.Error()}

	var te *dag.TaskError
	if errors.As(err, &te) {
		name := te.Task
		f.TaskID = &name
	}
	var ge *geoerr.Error
	if errors.As(err, &ge) {
		f.Path = ge.Path
	}

	var graphErr *dag.GraphError
	switch {
	case errors.As(err, &graphErr):
		f.FailureClass = FailureClassGraph
		f.ErrorCode = "InvalidGraph"
		if errors.Is(err, dag.ErrCycleFound) {
			f.ErrorCode = "CycleFound"
		}
	case errors.Is(err, geoerr.ErrInput):
		f.FailureClass, f.ErrorCode = FailureClassInput, "InputError"
	case errors.Is(err, geoerr.ErrDomain):
		f.FailureClass, f.ErrorCode = FailureClassDomain, "DomainError"
	case errors.Is(err, geoerr.ErrInvariant):
		f.FailureClass, f.ErrorCode = FailureClassInvariant, "InvariantError"
	case errors.Is(err, geoerr.ErrUnsupportedFormat):
		f.FailureClass, f.ErrorCode = FailureClassIO, "UnsupportedFormat"
	case errors.Is(err, geoerr.ErrIO):
		f.FailureClass, f.ErrorCode = FailureClassIO, "IOError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.FailureClass, f.ErrorCode = FailureClassSystem, "Cancelled"
	default:
		f.FailureClass, f.ErrorCode = FailureClassSystem, "UnknownError"
	}
	return f, nil
}
