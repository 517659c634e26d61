package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/graph"
)

// ListFilter narrows run listings. Zero values match everything.
type ListFilter struct {
	Status Status
	Kind   graph.Kind
	Limit  int
}

// Store persists GraphRuns. Update must reject a run whose Version does not
// match the stored version with ErrConflict, and increments Version on success.
type Store interface {
	Create(ctx context.Context, run *GraphRun) error
	Update(ctx context.Context, run *GraphRun) error
	Find(ctx context.Context, id uuid.UUID) (*GraphRun, error)
	List(ctx context.Context, filter ListFilter) ([]*GraphRun, error)
	// Touch sets UpdatedAt on a running run without changing its Version.
	// It is a no-op for runs that are not running.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}
