// Package errors provides error handling for the ELIS backend.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	Join      = crdb.Join
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for use across the backend.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	// or is not visible to the caller.
	ErrNotFound = New("not found")

	// ErrInvalidConfig indicates an analysis configuration was rejected
	// before any work started (bad caps, empty seeds, unknown variant).
	ErrInvalidConfig = New("invalid configuration")

	// ErrForbidden indicates the request is not allowed for this owner
	// (e.g. global search scope requested without admin privilege).
	ErrForbidden = New("forbidden")

	// ErrCollaboratorUnavailable indicates a model service (retrieval,
	// verification, descriptor computation) is failing systemically.
	ErrCollaboratorUnavailable = New("collaborator unavailable")

	// ErrCancelled indicates cooperative, user-initiated cancellation.
	ErrCancelled = New("cancelled")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidConfigError checks if an error is or wraps ErrInvalidConfig
func IsInvalidConfigError(err error) bool {
	return err != nil && Is(err, ErrInvalidConfig)
}

// IsForbiddenError checks if an error is or wraps ErrForbidden
func IsForbiddenError(err error) bool {
	return err != nil && Is(err, ErrForbidden)
}

// IsCollaboratorUnavailableError checks if an error is or wraps ErrCollaboratorUnavailable
func IsCollaboratorUnavailableError(err error) bool {
	return err != nil && Is(err, ErrCollaboratorUnavailable)
}

// IsCancelledError checks if an error is or wraps ErrCancelled
func IsCancelledError(err error) bool {
	return err != nil && Is(err, ErrCancelled)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidConfigError creates an invalid-config error with a formatted message
func NewInvalidConfigError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidConfig, Newf(format, args...).Error())
}
