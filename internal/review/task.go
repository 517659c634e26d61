// Package review implements the human approval checkpoint of the
// extraction pipeline: review tasks, verdicts, their delivery queue, and the
// gate node that suspends a run until a verdict arrives.
package review

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// Status is the review position of an extraction. Approved and rejected are
// terminal.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pendingReview"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// State fields owned by the gate.
const (
	FieldTaskID = "reviewTaskId"
	FieldStatus = "reviewStatus"
	FieldRecord = "refinedRecord"
)

// TaskStatus is the lifecycle of a review task.
type TaskStatus string

const (
	TaskOpen        TaskStatus = "open"
	TaskResolved    TaskStatus = "resolved"
	TaskInvalidated TaskStatus = "invalidated"
)

// Action is a reviewer's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

// Verdict resolves a review task. Edit approves the record with Edited in
// place of the refined record.
type Verdict struct {
	Action   Action             `json:"action"`
	Edited   *capability.Record `json:"edited,omitempty"`
	Reviewer string             `json:"reviewer,omitempty"`
	Comment  string             `json:"comment,omitempty"`
}

// Validate checks the action and its payload.
func (v Verdict) Validate() error {
	switch v.Action {
	case ActionApprove, ActionReject:
		return nil
	case ActionEdit:
		if v.Edited == nil {
			return ErrEditWithoutRecord
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, v.Action)
	}
}

// Outcome maps the verdict to the extraction's terminal review status.
func (v Verdict) Outcome() Status {
	if v.Action == ActionReject {
		return StatusRejected
	}
	return StatusApproved
}

// Task is one request for human review of a run's extraction.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	RunID      uuid.UUID       `json:"run_id"`
	Node       string          `json:"node"`
	Payload    json.RawMessage `json:"payload"`
	Status     TaskStatus      `json:"status"`
	Verdict    *Verdict        `json:"verdict,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

var taskNamespace = uuid.MustParse("6f1c0e52-9a57-4d0b-b1a3-2f6a61d0c9e4")

// TaskID derives the task id for a gate in a run, so re-invoking the gate
// opens the same task.
func TaskID(runID uuid.UUID, node string) uuid.UUID {
	return uuid.NewSHA1(taskNamespace, append(runID[:], node...))
}
