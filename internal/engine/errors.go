package engine

import "errors"

var (
	ErrNotFound     = errors.New("run not found")
	ErrConflict     = errors.New("run was modified concurrently")
	ErrRunBusy      = errors.New("run is being advanced elsewhere")
	ErrUnknownKind  = errors.New("no graph registered for kind")
	ErrNotSuspended = errors.New("run is not suspended")
	ErrRunFinished  = errors.New("run already finished")
	ErrShuttingDown = errors.New("engine is shutting down")
	ErrTaskMismatch = errors.New("no suspended node waits on task")
	ErrNodePanic    = errors.New("node panicked")

	errCancelled = errors.New(ReasonCancelled)
)

// ReasonNoTerminal is recorded when a run runs out of ready nodes without
// completing a terminal node.
const ReasonNoTerminal = "no-terminal"
