package shared

import "errors"

// Error kinds returned by the ledger and inventory core. Packages wrap them with
// context, callers match them with errors.Is.
var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrUnbalancedEntry indicates total debit differs from total credit.
	ErrUnbalancedEntry = errors.New("journal entry is not balanced")
	// ErrPeriodClosed indicates a posting against a closed accounting period.
	ErrPeriodClosed = errors.New("accounting period is closed")
	// ErrInsufficientStock indicates an OUT movement larger than the available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState indicates an illegal status transition.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrAlreadyProcessed indicates the record was already converted or approved.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a lost update or serialization failure. Safe to retry.
	ErrConflict = errors.New("concurrent update conflict")
)

// IsRetryable reports whether the whole operation may be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether err is caused by caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrUnbalancedEntry)
}
