package qa

import "errors"

var (
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrEmptyPlan      = errors.New("plan selects no tools")
	ErrUnknownTool    = errors.New("unknown tool")
	ErrDuplicateTool  = errors.New("tool planned more than once")
	ErrEmptyToolInput = errors.New("tool input is empty")
)
