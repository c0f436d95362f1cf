// Package apperr defines the error taxonomy shared by all core services.
// Every error wraps one of the sentinel kinds below so callers can classify
// with errors.Is and render a precise message from the attached detail.
package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is returned for malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned for duplicate resources, e.g. a second allocation
	// for the same (project, category, fiscal year). Not retried.
	ErrConflict = errors.New("resource conflict")

	// ErrInsufficientBudget is returned when a debit exceeds the available
	// balance. Not retried; the caller must adjust the request.
	ErrInsufficientBudget = errors.New("insufficient budget")

	// ErrUnauthorizedApprover is returned when the actor's roles do not include
	// the current level's required role.
	ErrUnauthorizedApprover = errors.New("approver not authorized for current level")

	// ErrUnauthorizedCancel is returned when someone other than the requester
	// attempts to cancel.
	ErrUnauthorizedCancel = errors.New("only the requester may cancel")

	// ErrAlreadyProcessed is returned when a decision targets an entity that
	// already reached a terminal status. Caller may re-fetch and reassess.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrCannotCancel is returned when a request can no longer be cancelled,
	// e.g. a level has already decided.
	ErrCannotCancel = errors.New("request can no longer be cancelled")

	// ErrNotFound is returned for missing entities.
	ErrNotFound = errors.New("not found")

	// ErrContention is surfaced when the storage conditional-update retry
	// budget is exhausted without a definitive outcome.
	ErrContention = errors.New("storage contention")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with the entity kind and id.
func NotFoundf(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

// InsufficientBudgetError carries the balance figures the caller needs to
// render an actionable message.
type InsufficientBudgetError struct {
	LineID    int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget: line %d has %s available, %s requested",
		e.LineID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

// Unwrap lets errors.Is(err, ErrInsufficientBudget) classify the error.
func (e *InsufficientBudgetError) Unwrap() error {
	return ErrInsufficientBudget
}

// NewInsufficientBudget builds an InsufficientBudgetError for a line.
func NewInsufficientBudget(lineID int64, available, requested decimal.Decimal) error {
	return &InsufficientBudgetError{LineID: lineID, Available: available, Requested: requested}
}
