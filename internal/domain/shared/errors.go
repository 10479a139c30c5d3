// Package shared contains common domain types, errors and events that are
// used across all domain packages. This package has zero external dependencies.
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

	// Validation errors. Always raised before the store is touched.
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNonPositive     = errors.New("value must be positive")
	ErrValueOutOfRange = errors.New("value out of range")

	// Business-rule errors. Raised inside a transaction attempt, never retried.
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStateTransition    = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors. ErrConflict stays inside the coordinator;
	// callers only ever see ErrContention.
	ErrConflict   = errors.New("concurrent modification detected")
	ErrContention = errors.New("contention: retries exhausted")

	// Infrastructure errors. ErrCommitUnknown marks a connection lost while
	// the commit was in flight: the write may or may not have been applied.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")
	ErrCommitUnknown    = errors.New("commit outcome unknown")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "account", "shop", "ledger"
	Op      string // Operation that failed, e.g., "Debit", "Approve"
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

// Is implements errors.Is() matching.
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

// NewValidationError is a shorthand for input validation failures.
func NewValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// Account domain errors
var (
	ErrAccountNotFound    = NewDomainError("account", "Find", ErrNotFound, "account not found")
	ErrNotAStudent        = NewDomainError("account", "CheckRole", ErrPreconditionFailed, "account is not a student")
	ErrStudentHasNoHouse  = NewDomainError("account", "CheckHouse", ErrPreconditionFailed, "student is not assigned to a house")
	ErrHouseMismatch      = NewDomainError("account", "CheckHouse", ErrPreconditionFailed, "house does not match the student's house")
	ErrInsufficientPoints = NewDomainError("account", "Debit", ErrPreconditionFailed, "insufficient points")
	ErrInvalidRole        = NewDomainError("account", "Validate", ErrInvalidInput, "invalid role")
)

// House domain errors
var (
	ErrHouseNotFound      = NewDomainError("house", "Find", ErrNotFound, "house not found")
	ErrHouseAlreadyExists = NewDomainError("house", "Create", ErrAlreadyExists, "house already exists")
)

// Shop domain errors
var (
	ErrItemNotFound       = NewDomainError("shop", "FindItem", ErrNotFound, "shop item not found")
	ErrItemInactive       = NewDomainError("shop", "Sell", ErrPreconditionFailed, "shop item is not active")
	ErrOutOfStock         = NewDomainError("shop", "Sell", ErrPreconditionFailed, "shop item is out of stock")
	ErrRequestNotFound    = NewDomainError("shop", "FindRequest", ErrNotFound, "shop request not found")
	ErrRequestNotPending  = NewDomainError("shop", "Review", ErrPreconditionFailed, "shop request is not pending")
	ErrInvalidShopRequest = NewDomainError("shop", "Validate", ErrValidation, "invalid shop request")
)

// Ledger domain errors
var (
	ErrPurchaseNotFound   = NewDomainError("ledger", "FindPurchase", ErrNotFound, "purchase not found")
	ErrPurchaseNotPending = NewDomainError("ledger", "Transition", ErrPreconditionFailed, "purchase is not pending")
	ErrInvalidTransition  = NewDomainError("ledger", "Transition", ErrStateTransition, "invalid purchase status transition")
	ErrInvalidCategory    = NewDomainError("ledger", "Validate", ErrValidation, "unknown award category")
)

// Leaderboard domain errors
var (
	ErrSnapshotNotFound = NewDomainError("leaderboard", "FindSnapshot", ErrNotFound, "snapshot not found")
	ErrInvalidScope     = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid ranking scope")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNonPositive) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsPrecondition checks if the error is a business-rule failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrStateTransition)
}

// IsForbidden checks if the caller lacked the role for the operation.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsConflict checks if the error is a retryable optimistic-concurrency failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsContention checks if retries were exhausted.
func IsContention(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsCommitUnknown checks if a write may have committed although an error
// was returned.
func IsCommitUnknown(err error) bool {
	return errors.Is(err, ErrCommitUnknown)
}

// IsUnavailable checks if the store could not be reached. An unknown commit
// outcome also counts.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCommitUnknown)
}
