// Package errors provides error handling for the wake-up call service.
//
// This package re-exports github.com/cockroachdb/errors (stack traces,
// wrapping, details and hints) and defines the error kinds shared by the
// scheduler, the execution engine and the interaction handlers.
//
// Usage:
//
//	if err := store.Claim(ctx, id, lease); err != nil {
//	    return errors.Wrap(err, "failed to claim wake-up call")
//	}
//
//	if errors.Is(err, errors.ErrInvalidTransition) {
//	    // record unchanged
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
	Mark         = crdb.Mark
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
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Error kinds. Match with errors.Is; wrap to add context.
var (
	// ErrNotFound indicates an unknown record id or correlation id
	ErrNotFound = New("not found")

	// ErrValidation indicates bad input, rejected before any mutation
	ErrValidation = New("validation failed")

	// ErrInvalidTransition indicates a status change the state machine does not allow
	ErrInvalidTransition = New("invalid state transition")

	// ErrProviderUnavailable indicates the delivery provider is disabled or unreachable
	ErrProviderUnavailable = New("delivery provider unavailable")

	// ErrProvider indicates the delivery provider rejected a request
	ErrProvider = New("delivery provider error")

	// ErrUnauthorized indicates the caller does not own the record
	ErrUnauthorized = New("unauthorized")
)

// NewNotFoundError creates a not-found error for the given kind and id.
func NewNotFoundError(kind, id string) error {
	return Mark(Newf("%s not found: %s", kind, id), ErrNotFound)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// NewTransitionError creates an invalid state transition error.
func NewTransitionError(from, to string) error {
	return Mark(Newf("cannot transition from %s to %s", from, to), ErrInvalidTransition)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidationError checks if an error is or wraps ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsTransitionError checks if an error is or wraps ErrInvalidTransition
func IsTransitionError(err error) bool {
	return err != nil && Is(err, ErrInvalidTransition)
}
