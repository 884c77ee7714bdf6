// Package apperr defines the error taxonomy shared by the scheduling and
// billing packages and the HTTP layer that renders it.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation_failed"
	KindConflict            Kind = "conflict"
	KindForbiddenTransition Kind = "forbidden_transition"
	KindForbidden           Kind = "forbidden"
	KindUnauthenticated     Kind = "unauthenticated"
	KindLocked              Kind = "locked"
	KindInternal            Kind = "internal"
)

// Error is a classified failure. Code is a stable machine readable slug,
// Details carries the competing entity data a caller needs to render the
// failure without a follow-up query.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	var inner *Error
	if e.Err == nil || errors.As(e.Err, &inner) {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Withf derives a new error from e with a formatted message and details.
// errors.Is(derived, e) holds.
func (e *Error) Withf(details map[string]any, format string, args ...any) *Error {
	return &Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
		Details: details,
		Err:     e,
	}
}

// Validation builds a one-off validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
