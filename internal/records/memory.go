package records

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process record store.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory creates an empty record store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Create(ctx context.Context, cmd CreateCommand) (Record, error) {
	if cmd.IdempotencyKey == "" {
		return Record{}, ErrMissingKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.IdempotencyKey == cmd.IdempotencyKey {
			return r, nil
		}
	}

	if cmd.Supersedes != nil && !slices.ContainsFunc(m.records, func(r Record) bool { return r.ID == *cmd.Supersedes }) {
		return Record{}, fmt.Errorf("%w: superseded record %s", ErrNotFound, *cmd.Supersedes)
	}

	r := Record{
		ID:             uuid.New(),
		RunID:          cmd.RunID,
		DocumentID:     cmd.DocumentID,
		IdempotencyKey: cmd.IdempotencyKey,
		Supersedes:     cmd.Supersedes,
		Data:           cmd.Data,
		CreatedAt:      time.Now().UTC(),
	}
	m.records = append(m.records, r)
	return r, nil
}

func (m *Memory) Find(ctx context.Context, id uuid.UUID) (Record, error) {
	return m.first(func(r Record) bool { return r.ID == id })
}

func (m *Memory) FindByRun(ctx context.Context, runID uuid.UUID) (Record, error) {
	return m.first(func(r Record) bool { return r.RunID == runID })
}

func (m *Memory) List(ctx context.Context, f Filters) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range slices.Backward(m.records) {
		if f.Project != "" && r.Data.Project != f.Project {
			continue
		}
		if f.ActivityType != "" && r.Data.ActivityType != f.ActivityType {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) first(match func(Record) bool) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range slices.Backward(m.records) {
		if match(r) {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

// DraftMemory is an in-process draft store.
type DraftMemory struct {
	mu     sync.Mutex
	drafts map[uuid.UUID]Draft
}

// NewDraftMemory creates an empty draft store.
func NewDraftMemory() *DraftMemory {
	return &DraftMemory{drafts: make(map[uuid.UUID]Draft)}
}

func (m *DraftMemory) Save(ctx context.Context, d Draft) (Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.Status == "" {
		d.Status = DraftPending
	}
	d.UpdatedAt = time.Now().UTC()
	m.drafts[d.RunID] = d
	return d, nil
}

func (m *DraftMemory) Find(ctx context.Context, runID uuid.UUID) (Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[runID]
	if !ok {
		return Draft{}, ErrDraftNotFound
	}
	return d, nil
}

func (m *DraftMemory) SetStatus(ctx context.Context, runID uuid.UUID, status DraftStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[runID]
	if !ok {
		return ErrDraftNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	m.drafts[runID] = d
	return nil
}
