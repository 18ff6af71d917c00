package escalation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no escalation exists for an ID.
	ErrNotFound = errors.New("escalation not found")

	// ErrDuplicateID is returned by [Store.Put] when the ID is already taken.
	ErrDuplicateID = errors.New("escalation id already exists")

	// ErrDuplicateWaiter is returned when a second waiter is registered for
	// an escalation that already has one.
	ErrDuplicateWaiter = errors.New("escalation already has a waiter")

	// ErrAlreadyResolved is returned when a resolution loses the race against
	// an earlier one. Use [errors.As] with [*AlreadyResolvedError] to obtain
	// the winning record.
	ErrAlreadyResolved = errors.New("escalation already resolved")

	// ErrEmptyResponse is returned when a resolution carries no text. A
	// resolved escalation always has a non-blank response.
	ErrEmptyResponse = errors.New("escalation response must not be empty")

	// ErrInvariantViolation signals corrupted store state, such as a freshly
	// generated ID colliding with an existing record. It is not recoverable.
	ErrInvariantViolation = errors.New("escalation invariant violation")
)

// AlreadyResolvedError reports a lost resolution race together with the
// record as it was resolved by the winner. It matches [ErrAlreadyResolved].
type AlreadyResolvedError struct {
	Current *Escalation
}

// Error implements error.
func (e *AlreadyResolvedError) Error() string {
	if e.Current == nil {
		return ErrAlreadyResolved.Error()
	}
	return fmt.Sprintf("escalation %s already resolved", e.Current.ID)
}

// Is makes errors.Is(err, ErrAlreadyResolved) succeed.
func (e *AlreadyResolvedError) Is(target error) bool {
	return target == ErrAlreadyResolved
}
