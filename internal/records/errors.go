package records

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("record already exists")
	ErrDraftNotFound = errors.New("draft not found")
	ErrMissingKey    = errors.New("record requires an idempotency key")
)
