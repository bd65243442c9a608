// Package failure classifies engine errors into the categories operators act on:
// caller-correctable validation, conflicts, partially applied commits, and
// retryable external/transport failures.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindPartialCommit Kind = "partial_commit"
	KindExternal      Kind = "external"
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a caller-correctable problem. Never retried.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a request that collides with existing state.
func Conflict(err error) error {
	return &Error{Kind: KindConflict, Err: err}
}

// NotFound wraps a missing-entity error.
func NotFound(err error) error {
	return &Error{Kind: KindNotFound, Err: err}
}

// External wraps a store or transport error. External errors are retryable.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindExternal, Message: op, Err: err}
}

// Wrap tags err with kind, keeping err reachable through errors.Is.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are treated as external.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var pe interface{ FailureKind() Kind }
	if errors.As(err, &pe) {
		return pe.FailureKind()
	}
	return KindExternal
}

// IsRetryable reports whether err may succeed if the same request is re-sent.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindExternal
}
