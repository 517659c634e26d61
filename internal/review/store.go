package review

import (
	"context"

	"github.com/google/uuid"
)

// Store persists review tasks. Each run has at most one open task.
type Store interface {
	// Open creates task, invalidating any other open task of the run. Opening
	// an existing task id returns the stored task unchanged.
	Open(ctx context.Context, task Task) (Task, error)
	Find(ctx context.Context, id uuid.UUID) (Task, error)
	FindOpen(ctx context.Context, runID uuid.UUID) (Task, error)
	// Resolve records v on an open task. A closed task is returned with
	// ErrTaskClosed or ErrTaskInvalidated.
	Resolve(ctx context.Context, id uuid.UUID, v Verdict) (Task, error)
	// Invalidate closes every open task of the run and reports how many.
	Invalidate(ctx context.Context, runID uuid.UUID) (int, error)
	List(ctx context.Context, status TaskStatus, limit int) ([]Task, error)
}
