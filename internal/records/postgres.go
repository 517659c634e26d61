package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JaimeStill/sitegraph/pkg/query"
	"github.com/JaimeStill/sitegraph/pkg/repository"
)

var recordProjection = query.
	NewProjectionMap("construction_records", "c").
	Project("id", "ID").
	Project("run_id", "RunID").
	Project("document_id", "DocumentID").
	Project("idempotency_key", "IdempotencyKey").
	Project("supersedes", "Supersedes").
	Project("data", "Data").
	Project("created_at", "CreatedAt")

var draftProjection = query.
	NewProjectionMap("extraction_drafts", "d").
	Project("run_id", "RunID").
	Project("document_id", "DocumentID").
	Project("data", "Data").
	Project("confidence", "Confidence").
	Project("score", "Score").
	Project("status", "Status").
	Project("updated_at", "UpdatedAt")

type postgres struct {
	db repository.DB
}

// NewPostgres creates a record store over construction_records.
func NewPostgres(db repository.DB) Store {
	return &postgres{db: db}
}

func (p *postgres) Create(ctx context.Context, cmd CreateCommand) (Record, error) {
	if cmd.IdempotencyKey == "" {
		return Record{}, ErrMissingKey
	}

	data, err := json.Marshal(cmd.Data)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}

	insert := `
		INSERT INTO construction_records(
			id, run_id, document_id, idempotency_key, supersedes, data,
			project, record_date, activity_type, quantity, unit, location, team)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING`

	args := []any{
		uuid.New(), cmd.RunID, cmd.DocumentID, cmd.IdempotencyKey, cmd.Supersedes, data,
		cmd.Data.Project, recordDate(cmd.Data.Date), cmd.Data.ActivityType,
		cmd.Data.Quantity, cmd.Data.Unit, cmd.Data.Location, cmd.Data.Team,
	}

	r, err := repository.WithTx(ctx, p.db, func(tx pgx.Tx) (Record, error) {
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return Record{}, err
		}
		q, qargs := query.NewBuilder(recordProjection).BuildSingle("IdempotencyKey", cmd.IdempotencyKey)
		return repository.QueryOne(ctx, tx, q, qargs, scanRecord)
	})
	if err != nil {
		return Record{}, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return r, nil
}

func (p *postgres) Find(ctx context.Context, id uuid.UUID) (Record, error) {
	q, args := query.NewBuilder(recordProjection).BuildSingle("ID", id)
	r, err := repository.QueryOne(ctx, p.db, q, args, scanRecord)
	if err != nil {
		return Record{}, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return r, nil
}

func (p *postgres) FindByRun(ctx context.Context, runID uuid.UUID) (Record, error) {
	q, args := query.
		NewBuilder(recordProjection, query.SortField{Field: "CreatedAt", Descending: true}).
		WhereEquals("RunID", runID).
		Limit(1).
		Build()

	r, err := repository.QueryOne(ctx, p.db, q, args, scanRecord)
	if err != nil {
		return Record{}, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return r, nil
}

func (p *postgres) List(ctx context.Context, f Filters) ([]Record, error) {
	q, args := query.
		NewBuilder(recordProjection, query.SortField{Field: "CreatedAt", Descending: true}).
		WhereEquals("c.project", f.Project).
		WhereEquals("c.activity_type", f.ActivityType).
		Limit(f.Limit).
		Build()

	out, err := repository.QueryMany(ctx, p.db, q, args, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func scanRecord(s repository.Scanner) (Record, error) {
	var (
		r    Record
		data []byte
	)
	if err := s.Scan(
		&r.ID, &r.RunID, &r.DocumentID, &r.IdempotencyKey, &r.Supersedes, &data, &r.CreatedAt,
	); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(data, &r.Data); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

type draftPostgres struct {
	db repository.DB
}

// NewDraftPostgres creates a draft store over extraction_drafts.
func NewDraftPostgres(db repository.DB) DraftStore {
	return &draftPostgres{db: db}
}

func (p *draftPostgres) Save(ctx context.Context, d Draft) (Draft, error) {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return Draft{}, fmt.Errorf("encode draft: %w", err)
	}
	confidence, err := json.Marshal(d.Confidence)
	if err != nil {
		return Draft{}, fmt.Errorf("encode confidence: %w", err)
	}
	if d.Status == "" {
		d.Status = DraftPending
	}

	q := `
		INSERT INTO extraction_drafts(run_id, document_id, data, confidence, score, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			data = EXCLUDED.data,
			confidence = EXCLUDED.confidence,
			score = EXCLUDED.score,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING run_id, document_id, data, confidence, score, status, updated_at`

	args := []any{d.RunID, d.DocumentID, data, confidence, d.Score, string(d.Status), time.Now().UTC()}

	saved, err := repository.QueryOne(ctx, p.db, q, args, scanDraft)
	if err != nil {
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}
	return saved, nil
}

func (p *draftPostgres) Find(ctx context.Context, runID uuid.UUID) (Draft, error) {
	q, args := query.NewBuilder(draftProjection).BuildSingle("RunID", runID)
	d, err := repository.QueryOne(ctx, p.db, q, args, scanDraft)
	if err != nil {
		return Draft{}, repository.MapError(err, ErrDraftNotFound, err)
	}
	return d, nil
}

func (p *draftPostgres) SetStatus(ctx context.Context, runID uuid.UUID, status DraftStatus) error {
	err := repository.ExecExpectOne(ctx, p.db,
		"UPDATE extraction_drafts SET status = $2, updated_at = $3 WHERE run_id = $1",
		runID, string(status), time.Now().UTC(),
	)
	return repository.MapError(err, ErrDraftNotFound, err)
}

func scanDraft(s repository.Scanner) (Draft, error) {
	var (
		d          Draft
		data       []byte
		confidence []byte
		status     string
	)
	if err := s.Scan(&d.RunID, &d.DocumentID, &data, &confidence, &d.Score, &status, &d.UpdatedAt); err != nil {
		return Draft{}, err
	}
	d.Status = DraftStatus(status)
	if err := json.Unmarshal(data, &d.Data); err != nil {
		return Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	if err := json.Unmarshal(confidence, &d.Confidence); err != nil {
		return Draft{}, fmt.Errorf("decode confidence: %w", err)
	}
	return d, nil
}
