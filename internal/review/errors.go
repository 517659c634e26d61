package review

import "errors"

var (
	ErrNotFound          = errors.New("review task not found")
	ErrTaskClosed        = errors.New("review task already resolved")
	ErrTaskInvalidated   = errors.New("review task was invalidated")
	ErrInvalidAction     = errors.New("invalid review action")
	ErrEditWithoutRecord = errors.New("edit verdict requires an edited record")
	ErrGateReentered     = errors.New("review gate entered twice in one run")
	ErrTaskMismatch      = errors.New("verdict does not match the run's review task")
)
