package documents

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/pkg/query"
	"github.com/JaimeStill/sitegraph/pkg/repository"
	"github.com/JaimeStill/sitegraph/pkg/storage"
)

var projection = query.
	NewProjectionMap("documents", "d").
	Project("id", "ID").
	Project("filename", "Filename").
	Project("content_type", "ContentType").
	Project("size_bytes", "SizeBytes").
	Project("page_count", "PageCount").
	Project("storage_key", "StorageKey").
	Project("project", "Project").
	Project("location", "Location").
	Project("record_date", "RecordDate").
	Project("uploaded_at", "UploadedAt")

type repo struct {
	db      repository.DB
	storage storage.System
	logger  *slog.Logger
	maxSize int64
}

// New creates a document repository backed by db and blob storage.
func New(db repository.DB, store storage.System, logger *slog.Logger, maxSize int64) System {
	return &repo{
		db:      db,
		storage: store,
		logger:  logger.With("system", "documents"),
		maxSize: maxSize,
	}
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

func (r *repo) Load(ctx context.Context, id uuid.UUID) (capability.Document, error) {
	d, err := r.Find(ctx, id)
	if err != nil {
		return capability.Document{}, err
	}

	data, err := storage.ReadAll(ctx, r.storage, d.StorageKey)
	if err != nil {
		return capability.Document{}, fmt.Errorf("download document blob: %w", err)
	}
	return d.Capability(data), nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Document, error) {
	contentType, pageCount, err := Validate(cmd, r.maxSize)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := buildStorageKey(id, sanitizeFilename(cmd.Filename))

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), contentType); err != nil {
		return nil, fmt.Errorf("upload document blob: %w", err)
	}

	q := `
		INSERT INTO documents(id, filename, content_type, size_bytes, page_count, storage_key, project, location, record_date, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, filename, content_type, size_bytes, page_count, storage_key, project, location, record_date, uploaded_at`

	insertArgs := []any{
		id,
		cmd.Filename,
		contentType,
		int64(len(cmd.Data)),
		pageCount,
		key,
		cmd.Context.Project,
		cmd.Context.Location,
		cmd.Context.RecordDate,
		time.Now().UTC(),
	}

	d, err := repository.WithTx(ctx, r.db, func(tx pgx.Tx) (Document, error) {
		return repository.QueryOne(ctx, tx, q, insertArgs, scanDocument)
	})

	if err != nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating blob delete failed", "key", key, "error", delErr)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document created", "id", d.ID, "filename", d.Filename, "content_type", d.ContentType)
	return &d, nil
}

func scanDocument(s repository.Scanner) (Document, error) {
	var d Document
	err := s.Scan(
		&d.ID,
		&d.Filename,
		&d.ContentType,
		&d.SizeBytes,
		&d.PageCount,
		&d.StorageKey,
		&d.Project,
		&d.Location,
		&d.RecordDate,
		&d.UploadedAt,
	)
	return d, err
}

func buildStorageKey(id uuid.UUID, filename string) string {
	return fmt.Sprintf("documents/%s/%s", id, filename)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "" || name == "/" {
		name = "document"
	}
	return url.PathEscape(name)
}
