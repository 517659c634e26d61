package review

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process task store.
type Memory struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]Task
}

// NewMemory creates an empty task store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[uuid.UUID]Task)}
}

func (m *Memory) Open(ctx context.Context, task Task) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.tasks {
		if t.RunID == task.RunID && t.Status == TaskOpen && id != task.ID {
			t.Status = TaskInvalidated
			m.tasks[id] = t
		}
	}

	if existing, ok := m.tasks[task.ID]; ok {
		return existing, nil
	}

	task.Status = TaskOpen
	task.Verdict = nil
	task.ResolvedAt = nil
	m.tasks[task.ID] = task
	return task, nil
}

func (m *Memory) Find(ctx context.Context, id uuid.UUID) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *Memory) FindOpen(ctx context.Context, runID uuid.UUID) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.RunID == runID && t.Status == TaskOpen {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("%w: no open task for run %s", ErrNotFound, runID)
}

func (m *Memory) Resolve(ctx context.Context, id uuid.UUID, v Verdict) (Task, error) {
	if err := v.Validate(); err != nil {
		return Task{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != TaskOpen {
		return t, closedError(t)
	}

	now := time.Now().UTC()
	t.Status = TaskResolved
	t.Verdict = &v
	t.ResolvedAt = &now
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) Invalidate(ctx context.Context, runID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.tasks {
		if t.RunID == runID && t.Status == TaskOpen {
			t.Status = TaskInvalidated
			m.tasks[id] = t
			n++
		}
	}
	return n, nil
}

func (m *Memory) List(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Task, 0)
	for _, t := range m.tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Task) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
