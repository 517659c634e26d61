package documents

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// System defines the public contract for document intake.
type System interface {
	Create(ctx context.Context, cmd CreateCommand) (*Document, error)
	Find(ctx context.Context, id uuid.UUID) (*Document, error)
	// Load returns the document with its stored bytes.
	Load(ctx context.Context, id uuid.UUID) (capability.Document, error)
}
