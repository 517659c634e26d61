package records

import (
	"context"

	"github.com/google/uuid"
)

// Store is create-only. Creating with an existing idempotency key returns
// the record already committed under that key.
type Store interface {
	Create(ctx context.Context, cmd CreateCommand) (Record, error)
	Find(ctx context.Context, id uuid.UUID) (Record, error)
	FindByRun(ctx context.Context, runID uuid.UUID) (Record, error)
	List(ctx context.Context, f Filters) ([]Record, error)
}

// DraftStore holds one draft per run.
type DraftStore interface {
	// Save inserts or replaces the run's draft.
	Save(ctx context.Context, d Draft) (Draft, error)
	Find(ctx context.Context, runID uuid.UUID) (Draft, error)
	SetStatus(ctx context.Context, runID uuid.UUID, status DraftStatus) error
}
