package documents_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/pkg/lifecycle"
	"github.com/JaimeStill/sitegraph/pkg/storage"
)

var png = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		cmd         documents.CreateCommand
		maxSize     int64
		contentType string
		err         error
	}{
		{"png by signature", documents.CreateCommand{Data: png}, 1024, "image/png", nil},
		{"declared type with params", documents.CreateCommand{Data: png, ContentType: "image/jpeg; q=0.9"}, 1024, "image/jpeg", nil},
		{"empty", documents.CreateCommand{}, 1024, "", documents.ErrInvalidFile},
		{"too large", documents.CreateCommand{Data: png}, 8, "", documents.ErrFileTooLarge},
		{"unsupported", documents.CreateCommand{Data: []byte("施工日志 plain text")}, 1024, "", documents.ErrUnsupportedType},
		{"unreadable pdf", documents.CreateCommand{Data: []byte("%PDF-1.7\nnot really a pdf")}, 1024, "", documents.ErrInvalidFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, pages, err := documents.Validate(tt.cmd, tt.maxSize)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got %v, want %v", err, tt.err)
			}
			if ct != tt.contentType {
				t.Errorf("got content type %q, want %q", ct, tt.contentType)
			}
			if pages != nil {
				t.Errorf("got page count %d for non-pdf", *pages)
			}
		})
	}
}

func TestMemoryLoad(t *testing.T) {
	ctx := context.Background()
	sys := documents.NewMemory(1 << 20)
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	d, err := sys.Create(ctx, documents.CreateCommand{
		Data:     png,
		Filename: "../日志 0305.png",
		Context:  documents.Context{Project: "滨江花园", Location: "A区", RecordDate: &date},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := sys.Load(ctx, d.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"bytes", bytes.Equal(doc.Data, png), true},
		{"project", doc.Project, "滨江花园"},
		{"date", doc.RecordDate.Equal(date), true},
		{"content type", doc.ContentType, "image/png"},
		{"key sanitized", d.StorageKey, "documents/" + d.ID.String() + "/%E6%97%A5%E5%BF%97%200305.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}

	if _, err := sys.Find(ctx, uuid.New()); !errors.Is(err, documents.ErrNotFound) {
		t.Errorf("got %v, want %v", err, documents.ErrNotFound)
	}
}

type fakeStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blobs: make(map[string][]byte)}
}

func (f *fakeStorage) Start(*lifecycle.Coordinator) error { return nil }

func (f *fakeStorage) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

func (f *fakeStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[key]; !ok {
		return storage.ErrNotFound
	}
	delete(f.blobs, key)
	return nil
}

func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok, nil
}

var documentColumns = []string{
	"id", "filename", "content_type", "size_bytes", "page_count", "storage_key",
	"project", "location", "record_date", "uploaded_at",
}

func TestRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	blobs := newFakeStorage()
	sys := documents.New(mock, blobs, slog.New(slog.DiscardHandler), 1<<20)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(
			pgxmock.AnyArg(), "log.png", "image/png", int64(len(png)), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "滨江花园", "", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows(documentColumns).AddRow(
			uuid.New(), "log.png", "image/png", int64(len(png)), nil, "documents/x/log.png",
			"滨江花园", "", nil, time.Now(),
		))
	mock.ExpectCommit()

	d, err := sys.Create(context.Background(), documents.CreateCommand{
		Data:     png,
		Filename: "log.png",
		Context:  documents.Context{Project: "滨江花园"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ContentType != "image/png" {
		t.Errorf("got %s, want image/png", d.ContentType)
	}
	if len(blobs.blobs) != 1 {
		t.Errorf("got %d blobs, want 1", len(blobs.blobs))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepositoryCreateCompensates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	blobs := newFakeStorage()
	sys := documents.New(mock, blobs, slog.New(slog.DiscardHandler), 1<<20)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(
			pgxmock.AnyArg(), "log.png", "image/png", int64(len(png)), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "", "", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, err := sys.Create(context.Background(), documents.CreateCommand{Data: png, Filename: "log.png"}); err == nil {
		t.Fatal("expected error")
	}
	if len(blobs.blobs) != 0 {
		t.Errorf("blob left behind after failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
