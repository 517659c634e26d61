// Package records stores committed construction records and the drafts they
// are reviewed from.
package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// Record is a committed construction record. Records are never updated; a
// correction is a new record that supersedes the old one.
type Record struct {
	ID             uuid.UUID         `json:"id"`
	RunID          uuid.UUID         `json:"run_id"`
	DocumentID     uuid.UUID         `json:"document_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Supersedes     *uuid.UUID        `json:"supersedes,omitempty"`
	Data           capability.Record `json:"data"`
	CreatedAt      time.Time         `json:"created_at"`
}

// CreateCommand describes a record to commit.
type CreateCommand struct {
	RunID          uuid.UUID
	DocumentID     uuid.UUID
	IdempotencyKey string
	Supersedes     *uuid.UUID
	Data           capability.Record
}

// Filters narrows record listings. Zero values match everything.
type Filters struct {
	Project      string
	ActivityType string
	Limit        int
}

// DraftStatus tracks a draft through review.
type DraftStatus string

const (
	DraftPending   DraftStatus = "draft"
	DraftCommitted DraftStatus = "committed"
	DraftDiscarded DraftStatus = "discarded"
)

// Draft is the reviewable extraction result of one run.
type Draft struct {
	RunID      uuid.UUID          `json:"run_id"`
	DocumentID uuid.UUID          `json:"document_id"`
	Data       capability.Record  `json:"data"`
	Confidence map[string]float64 `json:"confidence"`
	Score      float64            `json:"score"`
	Status     DraftStatus        `json:"status"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// IdempotencyKey derives the commit key for a node in a run.
func IdempotencyKey(runID uuid.UUID, node string) string {
	return runID.String() + ":" + node
}

const dateLayout = "2006-01-02"

// recordDate parses a normalised record date, returning nil when absent.
func recordDate(s string) *time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
