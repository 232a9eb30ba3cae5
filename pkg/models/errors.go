package models

import (
	"errors"
	"fmt"
)

// Kind classifies an error at a component's public boundary. The gateway maps
// kinds to HTTP status codes; the orchestrator uses them to decide fallback.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindNotFound           Kind = "NOT_FOUND"
	KindPrecondition       Kind = "PRECONDITION"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	KindTimeout            Kind = "TIMEOUT"
	KindInternal           Kind = "INTERNAL"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by kind so errors.Is(err, models.E(kind, ""))
// style sentinels work across wrapping.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// E constructs a kinded error.
func E(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Ef constructs a kinded error with a formatted message.
func Ef(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to INTERNAL.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
