// Package runs persists GraphRuns for the engine.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/engine"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/pkg/query"
	"github.com/JaimeStill/sitegraph/pkg/repository"
)

var projection = query.
	NewProjectionMap("runs", "r").
	Project("id", "ID").
	Project("kind", "Kind").
	Project("status", "Status").
	Project("input", "Input").
	Project("state", "State").
	Project("history", "History").
	Project("retry_counts", "RetryCounts").
	Project("last_error", "LastError").
	Project("version", "Version").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{Field: "UpdatedAt", Descending: true}

type postgres struct {
	db repository.DB
}

// NewPostgres creates a run store over the runs table.
func NewPostgres(db repository.DB) engine.Store {
	return &postgres{db: db}
}

func (p *postgres) Create(ctx context.Context, run *engine.GraphRun) error {
	doc, err := encode(run)
	if err != nil {
		return err
	}

	q := `
		INSERT INTO runs(id, kind, status, input, state, history, retry_counts, last_error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)`

	if _, err := p.db.Exec(ctx, q,
		run.ID, string(run.Kind), string(run.Status),
		doc.input, doc.state, doc.history, doc.retryCounts,
		run.LastError, run.CreatedAt, run.UpdatedAt,
	); err != nil {
		return repository.MapError(err, engine.ErrNotFound, fmt.Errorf("%w: duplicate run %s", engine.ErrConflict, run.ID))
	}

	run.Version = 1
	return nil
}

func (p *postgres) Update(ctx context.Context, run *engine.GraphRun) error {
	doc, err := encode(run)
	if err != nil {
		return err
	}

	q := `
		UPDATE runs
		SET status = $2, state = $3, history = $4, retry_counts = $5, last_error = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $8`

	err = repository.ExecExpectOne(ctx, p.db, q,
		run.ID, string(run.Status), doc.state, doc.history, doc.retryCounts,
		run.LastError, run.UpdatedAt, run.Version,
	)
	if err != nil {
		return repository.MapError(err, fmt.Errorf("%w: %s at version %d", engine.ErrConflict, run.ID, run.Version), err)
	}

	run.Version++
	return nil
}

func (p *postgres) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.db.Exec(ctx,
		`UPDATE runs SET updated_at = $2 WHERE id = $1 AND status = 'running'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("touch run %s: %w", id, err)
	}
	return nil
}

func (p *postgres) Find(ctx context.Context, id uuid.UUID) (*engine.GraphRun, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	run, err := repository.QueryOne(ctx, p.db, q, args, scanRun)
	if err != nil {
		return nil, repository.MapError(err, fmt.Errorf("%w: %s", engine.ErrNotFound, id), err)
	}
	return run, nil
}

func (p *postgres) List(ctx context.Context, filter engine.ListFilter) ([]*engine.GraphRun, error) {
	q, args := query.
		NewBuilder(projection, defaultSort).
		WhereEquals("Status", string(filter.Status)).
		WhereEquals("Kind", string(filter.Kind)).
		Limit(filter.Limit).
		Build()

	runs, err := repository.QueryMany(ctx, p.db, q, args, scanRun)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type document struct {
	input       []byte
	state       []byte
	history     []byte
	retryCounts []byte
}

func encode(run *engine.GraphRun) (document, error) {
	var (
		d   document
		err error
	)
	if d.input, err = json.Marshal(run.Input); err != nil {
		return d, fmt.Errorf("encode input: %w", err)
	}
	if d.state, err = json.Marshal(run.State); err != nil {
		return d, fmt.Errorf("encode state: %w", err)
	}
	if d.history, err = json.Marshal(run.History); err != nil {
		return d, fmt.Errorf("encode history: %w", err)
	}
	if d.retryCounts, err = json.Marshal(run.RetryCounts); err != nil {
		return d, fmt.Errorf("encode retry counts: %w", err)
	}
	return d, nil
}

func scanRun(s repository.Scanner) (*engine.GraphRun, error) {
	var (
		run       engine.GraphRun
		kind      string
		status    string
		d         document
		createdAt time.Time
		updatedAt time.Time
	)

	err := s.Scan(
		&run.ID, &kind, &status,
		&d.input, &d.state, &d.history, &d.retryCounts,
		&run.LastError, &run.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Kind = graph.Kind(kind)
	run.Status = engine.Status(status)
	run.CreatedAt = createdAt.UTC()
	run.UpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal(d.input, &run.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if err := json.Unmarshal(d.state, &run.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal(d.history, &run.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal(d.retryCounts, &run.RetryCounts); err != nil {
		return nil, fmt.Errorf("decode retry counts: %w", err)
	}
	if run.RetryCounts == nil {
		run.RetryCounts = map[string]int{}
	}
	return &run, nil
}
