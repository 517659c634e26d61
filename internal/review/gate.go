package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/graph"
)

// Gate is the suspend/resume node of the extraction graph. It opens one
// task on entry, queues it once the run is persisted as suspended, and
// completes only when that task's verdict resumes the run.
type Gate struct {
	name   string
	store  Store
	queue  Queue
	logger *slog.Logger
}

// NewGate creates a gate node called name.
func NewGate(name string, store Store, queue Queue, logger *slog.Logger) *Gate {
	return &Gate{
		name:   name,
		store:  store,
		queue:  queue,
		logger: logger.With("system", "review-gate"),
	}
}

func (g *Gate) Name() string { return g.name }

func (g *Gate) Capabilities() []capability.Name {
	return []capability.Name{capability.Review}
}

func (g *Gate) Writes() []string {
	return []string{FieldTaskID, FieldStatus, FieldRecord}
}

func (g *Gate) Run(ctx context.Context, in graph.Input) graph.Result {
	if in.Resume != nil {
		return g.resume(ctx, in)
	}

	if in.Snapshot.Has(FieldTaskID) {
		return graph.Fail(capability.Fatal(capability.Review, ErrGateReentered))
	}

	payload, err := json.Marshal(in.Snapshot)
	if err != nil {
		return graph.Fail(capability.Fatal(capability.Review, fmt.Errorf("encode review payload: %w", err)))
	}

	task, err := g.store.Open(ctx, Task{
		ID:        TaskID(in.RunID, g.name),
		RunID:     in.RunID,
		Node:      g.name,
		Payload:   payload,
		Status:    TaskOpen,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return graph.Fail(capability.Transient(capability.Review, fmt.Errorf("open task: %w", err)))
	}

	p, err := graph.Encode(map[string]any{
		FieldTaskID: task.ID,
		FieldStatus: StatusPendingReview,
	})
	if err != nil {
		return graph.Fail(capability.Fatal(capability.Review, err))
	}

	g.logger.Info("run awaiting review", "run_id", in.RunID, "task_id", task.ID)
	return graph.Suspend(p, graph.Suspension{TaskID: task.ID, Reason: "awaiting review"})
}

// Announce hands the open task to reviewers. A task resolved while it was
// being queued is acked again.
func (g *Gate) Announce(ctx context.Context, runID uuid.UUID, s graph.Suspension) error {
	task, err := g.store.Find(ctx, s.TaskID)
	if err != nil {
		return fmt.Errorf("find task %s: %w", s.TaskID, err)
	}
	if task.Status != TaskOpen {
		return nil
	}

	if err := g.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	if current, err := g.store.Find(ctx, task.ID); err == nil && current.Status != TaskOpen {
		return g.queue.Ack(ctx, task.ID)
	}

	g.logger.Info("review task queued", "run_id", runID, "task_id", task.ID)
	return nil
}

func (g *Gate) resume(ctx context.Context, in graph.Input) graph.Result {
	expected, ok, err := graph.Get[uuid.UUID](in.Snapshot, FieldTaskID)
	if err != nil || !ok || expected != in.Resume.TaskID {
		return graph.Fail(capability.Fatal(capability.Review, ErrTaskMismatch))
	}

	var v Verdict
	if err := json.Unmarshal(in.Resume.Payload, &v); err != nil {
		return graph.Fail(capability.Invalid(capability.Review, fmt.Errorf("decode verdict: %w", err)))
	}
	if err := v.Validate(); err != nil {
		return graph.Fail(capability.Invalid(capability.Review, err))
	}

	task, err := g.store.Find(ctx, expected)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return graph.Fail(capability.Fatal(capability.Review, err))
		}
		return graph.Fail(capability.Transient(capability.Review, err))
	}
	if task.Status == TaskInvalidated {
		return graph.Fail(capability.Fatal(capability.Review, ErrTaskInvalidated))
	}

	values := map[string]any{FieldStatus: v.Outcome()}
	if v.Action == ActionEdit {
		values[FieldRecord] = v.Edited
	}

	p, err := graph.Encode(values)
	if err != nil {
		return graph.Fail(capability.Fatal(capability.Review, err))
	}

	g.logger.Info("review resolved", "run_id", in.RunID, "task_id", expected, "action", v.Action)
	return graph.OK(p)
}

// StatusIs guards an edge on the extraction's review status.
func StatusIs(status Status) graph.Guard {
	return func(s graph.State) bool {
		got, _, err := graph.Get[Status](s, FieldStatus)
		return err == nil && got == status
	}
}
