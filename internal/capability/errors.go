package capability

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and reporting.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "capability-transient"
	KindFatal      Kind = "capability-fatal"
)

// Error is a classified capability failure.
type Error struct {
	Kind       Kind
	Capability Name
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%s: %v", e.Kind, e.Capability, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason renders the failure as "<kind>:<capability>".
func (e *Error) Reason() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Capability)
}

// Transient wraps err as a retryable failure of capability c.
func Transient(c Name, err error) error {
	return &Error{Kind: KindTransient, Capability: c, Err: err}
}

// Fatal wraps err as a non-retryable failure of capability c.
func Fatal(c Name, err error) error {
	return &Error{Kind: KindFatal, Capability: c, Err: err}
}

// Invalid wraps err as malformed input detected by capability c.
func Invalid(c Name, err error) error {
	return &Error{Kind: KindValidation, Capability: c, Err: err}
}

// KindOf classifies err. Deadline overruns are transient; unclassified
// errors are fatal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// NameOf returns the capability recorded on err, or fallback.
func NameOf(err error, fallback Name) Name {
	var ce *Error
	if errors.As(err, &ce) && ce.Capability != "" {
		return ce.Capability
	}
	return fallback
}

// Retryable reports whether err should be retried.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
