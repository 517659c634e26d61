package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/graph"
)

// Status is the lifecycle position of a GraphRun.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further advancement is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReasonCancelled is the failure reason recorded for cancelled runs.
const ReasonCancelled = "cancelled"

// NodeResult is one entry of a run's append-only history.
type NodeResult struct {
	Node       string        `json:"node"`
	Outcome    graph.Outcome `json:"outcome"`
	Patch      graph.Patch   `json:"patch,omitempty"`
	Next       []string      `json:"next"`
	Reason     string        `json:"reason,omitempty"`
	TaskID     *uuid.UUID    `json:"task_id,omitempty"`
	Attempt    int           `json:"attempt"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// GraphRun is one execution of a graph. State always equals Input folded
// with every history patch in order.
type GraphRun struct {
	ID          uuid.UUID      `json:"id"`
	Kind        graph.Kind     `json:"kind"`
	Status      Status         `json:"status"`
	Input       graph.Patch    `json:"input"`
	State       graph.State    `json:"state"`
	History     []NodeResult   `json:"history"`
	RetryCounts map[string]int `json:"retry_counts"`
	LastError   string         `json:"last_error,omitempty"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Fold rebuilds a state from the seed input and a history.
func Fold(input graph.Patch, history []NodeResult) graph.State {
	s := graph.NewState().Apply(input)
	for _, r := range history {
		s = s.Apply(r.Patch)
	}
	return s
}

// Summary is the externally visible view of a run.
type Summary struct {
	ID        uuid.UUID   `json:"id"`
	Kind      graph.Kind  `json:"kind"`
	Status    Status      `json:"status"`
	LastError string      `json:"last_error,omitempty"`
	Steps     int         `json:"steps"`
	Pending   []string    `json:"pending,omitempty"`
	State     graph.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}
