package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JaimeStill/sitegraph/pkg/query"
	"github.com/JaimeStill/sitegraph/pkg/repository"
)

var projection = query.
	NewProjectionMap("review_tasks", "t").
	Project("id", "ID").
	Project("run_id", "RunID").
	Project("node", "Node").
	Project("payload", "Payload").
	Project("status", "Status").
	Project("verdict", "Verdict").
	Project("created_at", "CreatedAt").
	Project("resolved_at", "ResolvedAt")

const returning = "RETURNING id, run_id, node, payload, status, verdict, created_at, resolved_at"

type postgres struct {
	db repository.DB
}

// NewPostgres creates a task store over the review_tasks table.
func NewPostgres(db repository.DB) Store {
	return &postgres{db: db}
}

func (p *postgres) Open(ctx context.Context, task Task) (Task, error) {
	return repository.WithTx(ctx, p.db, func(tx pgx.Tx) (Task, error) {
		if _, err := tx.Exec(ctx,
			`UPDATE review_tasks SET status = 'invalidated' WHERE run_id = $1 AND status = 'open' AND id <> $2`,
			task.RunID, task.ID,
		); err != nil {
			return Task{}, fmt.Errorf("invalidate open tasks: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO review_tasks(id, run_id, node, payload, status, created_at)
			VALUES ($1, $2, $3, $4, 'open', $5)
			ON CONFLICT (id) DO NOTHING`,
			task.ID, task.RunID, task.Node, []byte(task.Payload), task.CreatedAt,
		); err != nil {
			return Task{}, fmt.Errorf("insert task: %w", err)
		}

		q, args := query.NewBuilder(projection).BuildSingle("ID", task.ID)
		return repository.QueryOne(ctx, tx, q, args, scanTask)
	})
}

func (p *postgres) Find(ctx context.Context, id uuid.UUID) (Task, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)
	t, err := repository.QueryOne(ctx, p.db, q, args, scanTask)
	if err != nil {
		return Task{}, repository.MapError(err, ErrNotFound, err)
	}
	return t, nil
}

func (p *postgres) FindOpen(ctx context.Context, runID uuid.UUID) (Task, error) {
	q, args := query.
		NewBuilder(projection).
		WhereEquals("RunID", runID).
		WhereEquals("Status", string(TaskOpen)).
		Limit(1).
		Build()

	t, err := repository.QueryOne(ctx, p.db, q, args, scanTask)
	if err != nil {
		return Task{}, repository.MapError(err, ErrNotFound, err)
	}
	return t, nil
}

func (p *postgres) Resolve(ctx context.Context, id uuid.UUID, v Verdict) (Task, error) {
	if err := v.Validate(); err != nil {
		return Task{}, err
	}

	verdict, err := json.Marshal(v)
	if err != nil {
		return Task{}, fmt.Errorf("encode verdict: %w", err)
	}

	q := `
		UPDATE review_tasks SET status = 'resolved', verdict = $2, resolved_at = $3
		WHERE id = $1 AND status = 'open'
		` + returning

	t, err := repository.QueryOne(ctx, p.db, q, []any{id, verdict, time.Now().UTC()}, scanTask)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Task{}, fmt.Errorf("resolve task: %w", err)
	}

	existing, err := p.Find(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return existing, closedError(existing)
}

func (p *postgres) Invalidate(ctx context.Context, runID uuid.UUID) (int, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE review_tasks SET status = 'invalidated' WHERE run_id = $1 AND status = 'open'`,
		runID,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *postgres) List(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	q, args := query.
		NewBuilder(projection, query.SortField{Field: "CreatedAt"}).
		WhereEquals("Status", string(status)).
		Limit(limit).
		Build()

	tasks, err := repository.QueryMany(ctx, p.db, q, args, scanTask)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func closedError(t Task) error {
	if t.Status == TaskInvalidated {
		return fmt.Errorf("%w: %s", ErrTaskInvalidated, t.ID)
	}
	return fmt.Errorf("%w: %s", ErrTaskClosed, t.ID)
}

func scanTask(s repository.Scanner) (Task, error) {
	var (
		t       Task
		status  string
		payload []byte
		verdict []byte
	)

	if err := s.Scan(
		&t.ID, &t.RunID, &t.Node, &payload, &status, &verdict, &t.CreatedAt, &t.ResolvedAt,
	); err != nil {
		return Task{}, err
	}

	t.Status = TaskStatus(status)
	t.Payload = payload

	if len(verdict) > 0 {
		var v Verdict
		if err := json.Unmarshal(verdict, &v); err != nil {
			return Task{}, fmt.Errorf("decode verdict: %w", err)
		}
		t.Verdict = &v
	}
	return t, nil
}
