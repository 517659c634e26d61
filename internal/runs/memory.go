package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/engine"
)

// Memory is an in-process run store. Runs are stored as encoded copies so
// callers never share mutable state with the store.
type Memory struct {
	mu   sync.Mutex
	runs map[uuid.UUID][]byte
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[uuid.UUID][]byte)}
}

func (m *Memory) Create(ctx context.Context, run *engine.GraphRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("%w: duplicate run %s", engine.ErrConflict, run.ID)
	}

	run.Version = 1
	return m.put(run)
}

func (m *Memory) Update(ctx context.Context, run *engine.GraphRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.get(run.ID)
	if err != nil {
		return err
	}
	if stored.Version != run.Version {
		return fmt.Errorf("%w: %s at version %d", engine.ErrConflict, run.ID, run.Version)
	}

	run.Version++
	if err := m.put(run); err != nil {
		run.Version--
		return err
	}
	return nil
}

func (m *Memory) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.get(id)
	if err != nil {
		return err
	}
	if stored.Status != engine.StatusRunning {
		return nil
	}
	stored.UpdatedAt = at
	return m.put(stored)
}

func (m *Memory) Find(ctx context.Context, id uuid.UUID) (*engine.GraphRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *Memory) List(ctx context.Context, filter engine.ListFilter) ([]*engine.GraphRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*engine.GraphRun, 0)
	for id := range m.runs {
		run, err := m.get(id)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && run.Kind != filter.Kind {
			continue
		}
		out = append(out, run)
	}

	slices.SortFunc(out, func(a, b *engine.GraphRun) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) put(run *engine.GraphRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	m.runs[run.ID] = data
	return nil
}

func (m *Memory) get(id uuid.UUID) (*engine.GraphRun, error) {
	data, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, id)
	}
	var run engine.GraphRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	if run.RetryCounts == nil {
		run.RetryCounts = map[string]int{}
	}
	return &run, nil
}
