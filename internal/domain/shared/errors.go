// Package shared contains the error kinds and domain events used across the
// challenge and medal packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidTier  = errors.New("invalid tier")

	// State errors
	ErrInvalidState      = errors.New("invalid state")
	ErrDataInconsistency = errors.New("data inconsistency")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrTransient              = errors.New("transient failure")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "medal", "challenge"
	Op      string // Operation that failed, e.g., "Reconcile", "Compute"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Challenge domain errors
var (
	ErrChallengeNotFound    = NewDomainError("challenge", "Find", ErrNotFound, "challenge not found")
	ErrWeekNotFound         = NewDomainError("challenge", "FindWeek", ErrNotFound, "challenge week not found")
	ErrParticipantNotFound  = NewDomainError("challenge", "FindParticipant", ErrNotFound, "participant not found")
	ErrWeekOutsideChallenge = NewDomainError("challenge", "Validate", ErrDataInconsistency, "week does not belong to challenge")
	ErrMalformedTier        = NewDomainError("challenge", "ParseTier", ErrInvalidTier, "tier must look like T<n> with n >= 1")
)

// Medal domain errors
var (
	ErrUnknownKind        = NewDomainError("medal", "Lookup", ErrNotFound, "unknown achievement kind")
	ErrOrphanCheckin      = NewDomainError("medal", "Compute", ErrDataInconsistency, "check-in references an unknown week or participant")
	ErrLedgerConflict     = NewDomainError("medal", "Reconcile", ErrConcurrentModification, "ledger changed during reconciliation")
	ErrReconcileExhausted = NewDomainError("medal", "Reconcile", ErrTransient, "reconciliation retries exhausted")
)

// Points errors
var (
	ErrPointsUnavailable = NewDomainError("points", "TotalPoints", ErrServiceUnavailable, "points service unavailable")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDataInconsistency checks if the error signals corrupt or dangling references.
func IsDataInconsistency(err error) bool {
	return errors.Is(err, ErrDataInconsistency)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTier)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
