// Package domainerrors is the shared error taxonomy for the compliance core.
//
// Every operation in the event gate, the audit ledger, and the consent
// service returns either a success value or exactly one *Error from this
// package. Callers branch on Code/Category, never on Message text.
//
// Codes are append-only: once a code ships it is never renumbered, reused,
// or moved to a different category, because external callers and persisted
// audit records reference them. The registry in registry.go is the single
// source of truth; constructing an Error with an unregistered code panics
// at init-affected call sites via New, which keeps malformed literals out
// of the codebase.
package domainerrors

import (
	"errors"
	"fmt"
)

// Category groups codes by caller-visible behavior.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryAuthorization Category = "authorization"
	CategoryConflict      Category = "conflict"
	CategoryNotFound      Category = "not_found"
	CategoryIntegrity     Category = "integrity_violation"
	CategoryExternal      Category = "external_dependency"
	CategoryInternal      Category = "internal"
)

// Code is a stable, enumerated failure identifier. See registry.go.
type Code string

// Error is the uniform failure value crossing every component boundary.
type Error struct {
	Code      Code
	Category  Category
	Retryable bool
	Message   string
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error for a registered code. Category and retryability come
// from the registry, never from the call site.
func New(code Code, message string) *Error {
	spec := mustSpec(code)
	return &Error{Code: code, Category: spec.Category, Retryable: spec.Retryable, Message: message}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause while classifying it under a registered code.
// If err is already an *Error it is preserved as the cause so HasCode can
// still see the original classification through Unwrap.
func Wrap(err error, code Code, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

// Is supports errors.Is matching on code identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// HasCode reports whether err, or anything it wraps, carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		if e.cause == nil {
			return false
		}
		err = e.cause
	}
	return false
}

// CategoryOf classifies an arbitrary error. Unclassified errors are internal.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// IsRetryable reports whether the caller may safely retry the whole
// operation. Retried submissions must reuse the same event id so the
// ledger's idempotency check absorbs the duplicate.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// From coerces any error into the taxonomy, defaulting to CodeInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "unclassified failure")
}
