package dag

// TaskState is the runtime state of a node in one execution attempt.
//
//	PENDING, RUNNING, COMPLETED, FAILED, SKIPPED, CACHED
//
// SKIPPED means not run because an upstream task failed; CACHED means the
// task was up to date and its build was not invoked.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskCached    TaskState = "CACHED"
)

// ExecutionState maps task name to its current TaskState. It is kept apart
// from TaskGraph so the same graph can be executed many times.
type ExecutionState map[string]TaskState
