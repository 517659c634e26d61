package graph

import "errors"

var (
	ErrUndeclaredNode = errors.New("undeclared node")
	ErrDuplicateNode  = errors.New("duplicate node")
	ErrNoEntry        = errors.New("entry node not set")
	ErrNoTerminal     = errors.New("no terminal node declared")
	ErrCycle          = errors.New("graph contains a cycle")
	ErrWriteConflict  = errors.New("concurrent nodes patch overlapping fields")
	ErrUnreachable    = errors.New("node unreachable from entry")
	ErrDeadEnd        = errors.New("non-terminal node has no successors")
	ErrInvalidRoute   = errors.New("route names an undeclared successor")
)
