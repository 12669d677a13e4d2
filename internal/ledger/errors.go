package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies adapter errors so callers can decide between failing,
// retrying, and reconciling state.
type Kind int

const (
	// KindValidation marks rejected inputs. Never retried.
	KindValidation Kind = iota + 1

	// KindTransient marks connectivity and availability failures. Safe to
	// retry with backoff.
	KindTransient

	// KindConflict marks operations rejected because the lock is already in
	// a conflicting state. Callers check idempotence before failing.
	KindConflict

	// KindNotFound marks references to locks the chain does not know.
	KindNotFound
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a kinded adapter error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func hasKind(err error, kind Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return hasKind(err, KindValidation) }

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

// IsNotFound reports whether err references an unknown lock.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }
