package orchestrator

import "errors"

var (
	ErrEmptyRequest    = errors.New("request carries neither a document nor a question")
	ErrNotExtraction   = errors.New("run is not an extraction")
	ErrVerdictConflict = errors.New("task already resolved with a different verdict")
)
