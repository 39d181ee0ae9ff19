// Package shared holds the identifiers, errors and events every domain
// package uses. It imports nothing outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ERROR KINDS
// ═══════════════════════════════════════════════════════════════════════════════

// Kinds are matched with errors.Is. Transports map them to status codes and
// the executor decides from them whether a command may be retried.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")
	ErrInvalidDate   = errors.New("invalid date")

	ErrUnknownActivity = errors.New("unknown activity")

	// ErrConcurrentUpdateConflict means the unit of work lost a race and
	// nothing was written.
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")

	// ErrStorageUnavailable means the backend could not be reached and
	// nothing was written.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// DomainError attaches where an error happened to its kind.
type DomainError struct {
	Domain  string // progress, habit, achievement, store
	Op      string
	Kind    error
	Message string
	Err     error // cause, may be nil
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError creates an error without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError creates an error around a cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SENTINELS
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrFutureCompletion    = NewDomainError("progress", "RecordCompletion", ErrInvalidDate, "completion date is too far in the future")
	ErrBackdatedCompletion = NewDomainError("progress", "RecordCompletion", ErrInvalidDate, "completion date is before the last active date")
	ErrInvalidUserID       = NewDomainError("progress", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidActivityID   = NewDomainError("progress", "Validate", ErrInvalidID, "invalid activity ID")
	ErrNegativePoints      = NewDomainError("progress", "Validate", ErrNegativeValue, "points cannot be negative")
)

var (
	ErrInvalidTimeSlot  = NewDomainError("habit", "Validate", ErrInvalidInput, "time slot must be morning, anytime or evening")
	ErrInvalidRoutineID = NewDomainError("habit", "Validate", ErrInvalidID, "invalid routine ID")
	ErrRoutineNotFound  = NewDomainError("habit", "Subscribe", ErrNotFound, "routine not found in catalog")
	ErrEmptyRoutine     = NewDomainError("habit", "Subscribe", ErrEmptyValue, "routine has no activities")
)

var ErrInvalidRequirement = NewDomainError("achievement", "Validate", ErrInvalidInput, "invalid achievement requirement")

// ErrStoreConflict is returned by a versioned save that found a newer row.
var ErrStoreConflict = NewDomainError("store", "Commit", ErrConcurrentUpdateConflict, "progress was modified concurrently")

// ═══════════════════════════════════════════════════════════════════════════════
// CLASSIFIERS
// ═══════════════════════════════════════════════════════════════════════════════

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports errors caused by the caller's input.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrInvalidID, ErrInvalidInput, ErrEmptyValue, ErrNegativeValue, ErrInvalidDate} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentUpdateConflict)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsRetryable reports errors after which nothing was applied, so the whole
// command can run again.
func IsRetryable(err error) bool {
	return IsConflict(err) || IsUnavailable(err)
}
