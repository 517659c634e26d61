package graph

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// Kind names a graph definition.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindQA         Kind = "qa"
)

// Outcome is the result classification of one node invocation.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeRetryable Outcome = "retryable-error"
	OutcomeFatal     Outcome = "fatal-error"
	// OutcomeSuspended records that a node paused the run pending an external event.
	OutcomeSuspended Outcome = "suspended"
)

// Resume carries the external event that wakes a suspended node.
type Resume struct {
	TaskID  uuid.UUID       `json:"task_id"`
	Payload json.RawMessage `json:"payload"`
}

// Input is what a node sees on each invocation.
type Input struct {
	RunID    uuid.UUID
	Kind     Kind
	Snapshot State
	Attempt  int
	Resume   *Resume
}

// Suspension describes why a node paused the run.
type Suspension struct {
	TaskID uuid.UUID `json:"task_id"`
	Reason string    `json:"reason"`
}

// Result is a node's output. Next, when non-nil, overrides guard evaluation
// and must name declared successors.
type Result struct {
	Patch   Patch
	Next    []string
	Outcome Outcome
	Err     error
	Suspend *Suspension
}

// Node is the unit of pipeline work.
type Node interface {
	Name() string
	// Capabilities lists the external services the node calls.
	Capabilities() []capability.Name
	// Writes lists the state fields the node may patch.
	Writes() []string
	Run(ctx context.Context, in Input) Result
}

// Announcer is implemented by suspending nodes that publish their
// suspension. The engine calls Announce only after the suspended run is
// persisted and released, so a reply can resume it at once.
type Announcer interface {
	Announce(ctx context.Context, runID uuid.UUID, s Suspension) error
}

// OK returns a successful result that routes by edge guards.
func OK(p Patch) Result {
	return Result{Patch: p, Outcome: OutcomeOK}
}

// Route returns a successful result that routes to the named successors.
func Route(p Patch, next ...string) Result {
	if next == nil {
		next = []string{}
	}
	return Result{Patch: p, Next: next, Outcome: OutcomeOK}
}

// Skip returns a successful result with an empty patch.
func Skip() Result {
	return Result{Outcome: OutcomeOK}
}

// Fail classifies err into a retryable or fatal result.
func Fail(err error) Result {
	if capability.Retryable(err) {
		return Result{Outcome: OutcomeRetryable, Err: err}
	}
	return Result{Outcome: OutcomeFatal, Err: err}
}

// Suspend returns a result that pauses the run after applying p.
func Suspend(p Patch, s Suspension) Result {
	return Result{Patch: p, Outcome: OutcomeSuspended, Suspend: &s}
}

// NodeFunc is the body of a node built with NewNode.
type NodeFunc func(ctx context.Context, in Input) Result

// Func adapts a NodeFunc into a Node.
type Func struct {
	name   string
	caps   []capability.Name
	writes []string
	fn     NodeFunc
}

// NewNode wraps fn as a Node.
func NewNode(
	name string,
	caps []capability.Name,
	writes []string,
	fn NodeFunc,
) *Func {
	return &Func{name: name, caps: caps, writes: writes, fn: fn}
}

func (f *Func) Name() string                    { return f.name }
func (f *Func) Capabilities() []capability.Name { return f.caps }
func (f *Func) Writes() []string                { return f.writes }

func (f *Func) Run(ctx context.Context, in Input) Result {
	return f.fn(ctx, in)
}
