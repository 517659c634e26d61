// Package orchestrator is the single entry point for callers: it routes
// requests to the extraction or QA graph, exposes run status, and carries
// review verdicts back into suspended runs.
package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/qa"
	"github.com/JaimeStill/sitegraph/internal/review"
)

// Upload is a document file received from a caller.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Request is an inbound submission: a document with its context, or a
// question on its own.
type Request struct {
	Upload   *Upload
	Context  documents.Context
	Question string
}

// Submission identifies the run a request started. Answer is set when a
// question was answered within the configured wait.
type Submission struct {
	RunID  uuid.UUID  `json:"run_id"`
	Kind   graph.Kind `json:"kind"`
	Answer *qa.Answer `json:"answer,omitempty"`
}

// System defines the public contract of the orchestrator.
type System interface {
	Submit(ctx context.Context, req Request) (Submission, error)
	SubmitDocument(ctx context.Context, upload Upload, dc documents.Context) (uuid.UUID, error)
	SubmitQuestion(ctx context.Context, question string) (Submission, error)
	GetRunStatus(ctx context.Context, runID uuid.UUID) (engine.Summary, error)
	// ResolveReview applies v to the task and resumes its run. Repeating a
	// verdict already recorded returns the run id without advancing again.
	ResolveReview(ctx context.Context, taskID uuid.UUID, v review.Verdict) (uuid.UUID, error)
	PendingReviews(ctx context.Context, limit int) ([]review.Task, error)
	CancelRun(ctx context.Context, runID uuid.UUID) error
	// Resubmit starts a new extraction of the run's document and cancels the
	// original run.
	Resubmit(ctx context.Context, runID uuid.UUID) (uuid.UUID, error)
	// Listen resolves verdicts delivered through the review queue until ctx
	// is done.
	Listen(ctx context.Context) error
}
