// Package core defines the error taxonomy shared by the ledger, the
// accrual engine and the scheduler. All errors crossing a service
// boundary are one of these types so callers can classify without
// string matching.
package core

import (
	"errors"
	"fmt"
)

// NotFoundError means a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError for the given entity and id.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError means structurally invalid input; no partial mutation
// has occurred when it is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Invalid builds a ValidationError.
func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BudgetExceededError means a charge would overspend a ceiling. The
// charge is rejected, never clamped; the ceiling-triggered status
// transition is applied instead.
type BudgetExceededError struct {
	Entity  string
	ID      string
	Ceiling string // "daily" or "total"
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s %s: %s budget exceeded", e.Entity, e.ID, e.Ceiling)
}

// IsBudgetExceeded reports whether err is a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// ErrConflict signals lock or compare-and-swap contention on a
// per-entity spend update. Callers retry locally with backoff and only
// surface it once retries exhaust.
var ErrConflict = errors.New("concurrent update conflict")

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ErrInsufficientFunds means the advertiser wallet cannot cover the
// requested budget increase. Rejected before any state mutation.
var ErrInsufficientFunds = errors.New("insufficient wallet balance")
