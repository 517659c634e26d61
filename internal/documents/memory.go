package documents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// Memory is an in-process System that keeps blobs alongside metadata.
type Memory struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]Document
	blobs   map[uuid.UUID][]byte
	maxSize int64
}

// NewMemory creates an empty in-process document system.
func NewMemory(maxSize int64) *Memory {
	return &Memory{
		docs:    make(map[uuid.UUID]Document),
		blobs:   make(map[uuid.UUID][]byte),
		maxSize: maxSize,
	}
}

func (m *Memory) Create(ctx context.Context, cmd CreateCommand) (*Document, error) {
	contentType, pageCount, err := Validate(cmd, m.maxSize)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	d := Document{
		ID:          id,
		Filename:    cmd.Filename,
		ContentType: contentType,
		SizeBytes:   int64(len(cmd.Data)),
		PageCount:   pageCount,
		StorageKey:  buildStorageKey(id, sanitizeFilename(cmd.Filename)),
		Project:     cmd.Context.Project,
		Location:    cmd.Context.Location,
		RecordDate:  cmd.Context.RecordDate,
		UploadedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = d
	m.blobs[id] = append([]byte(nil), cmd.Data...)
	return &d, nil
}

func (m *Memory) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &d, nil
}

func (m *Memory) Load(ctx context.Context, id uuid.UUID) (capability.Document, error) {
	d, err := m.Find(ctx, id)
	if err != nil {
		return capability.Document{}, err
	}

	m.mu.Lock()
	data := append([]byte(nil), m.blobs[id]...)
	m.mu.Unlock()

	return d.Capability(data), nil
}

// Len reports the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
