// Package vector stores record embeddings for semantic search.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/pkg/repository"
)

// Metadata keys promoted to columns and returned on hits.
const (
	MetaDocumentRef = "document_ref"
	MetaContent     = "content"
)

var (
	ErrEmptyID        = errors.New("embedding id is required")
	ErrEmptyEmbedding = errors.New("embedding is empty")
)

type postgres struct {
	db repository.DB
}

// NewPostgres creates a capability.VectorStore over record_embeddings.
func NewPostgres(db repository.DB) capability.VectorStore {
	return &postgres{db: db}
}

func (p *postgres) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	if err := validate(id, embedding); err != nil {
		return capability.Invalid(capability.Vector, err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return capability.Invalid(capability.Vector, fmt.Errorf("encode metadata: %w", err))
	}

	q := `
		INSERT INTO record_embeddings(id, document_ref, content, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_ref = EXCLUDED.document_ref,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`

	_, err = p.db.Exec(ctx, q,
		id, stringMeta(metadata, MetaDocumentRef), stringMeta(metadata, MetaContent),
		meta, pgvector.NewVector(embedding), time.Now().UTC(),
	)
	if err != nil {
		return capability.Transient(capability.Vector, fmt.Errorf("upsert %s: %w", id, err))
	}
	return nil
}

func (p *postgres) Search(ctx context.Context, embedding []float32, k int) ([]capability.Hit, error) {
	if len(embedding) == 0 {
		return nil, capability.Invalid(capability.Vector, ErrEmptyEmbedding)
	}
	if k <= 0 {
		return []capability.Hit{}, nil
	}

	q := `
		SELECT id, document_ref, content, metadata, 1 - (embedding <=> $1) AS score
		FROM record_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2`

	hits, err := repository.QueryMany(ctx, p.db, q, []any{pgvector.NewVector(embedding), k}, scanHit)
	if err != nil {
		return nil, capability.Transient(capability.Vector, fmt.Errorf("search: %w", err))
	}
	return hits, nil
}

func scanHit(s repository.Scanner) (capability.Hit, error) {
	var (
		h    capability.Hit
		meta []byte
	)
	if err := s.Scan(&h.ID, &h.DocumentRef, &h.Content, &meta, &h.Score); err != nil {
		return capability.Hit{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return capability.Hit{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return h, nil
}

type entry struct {
	embedding []float32
	metadata  map[string]any
}

// Memory is an in-process vector store ranked by cosine similarity.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) Upsert(_ context.Context, id string, embedding []float32, metadata map[string]any) error {
	if err := validate(id, embedding); err != nil {
		return capability.Invalid(capability.Vector, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = entry{embedding: slices.Clone(embedding), metadata: metadata}
	return nil
}

func (m *Memory) Search(_ context.Context, embedding []float32, k int) ([]capability.Hit, error) {
	if len(embedding) == 0 {
		return nil, capability.Invalid(capability.Vector, ErrEmptyEmbedding)
	}

	m.mu.RLock()
	hits := make([]capability.Hit, 0, len(m.entries))
	for id, e := range m.entries {
		hits = append(hits, capability.Hit{
			ID:          id,
			Score:       cosine(embedding, e.embedding),
			DocumentRef: stringMeta(e.metadata, MetaDocumentRef),
			Content:     stringMeta(e.metadata, MetaContent),
			Metadata:    e.metadata,
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(hits, func(a, b capability.Hit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return hits[:min(max(k, 0), len(hits))], nil
}

// Len returns the number of stored embeddings.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func validate(id string, embedding []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}
	return nil
}

func stringMeta(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
