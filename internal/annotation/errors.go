package annotation

import (
	"errors"
	"fmt"
)

// Common annotation errors.
var (
	// ErrInvalidTransition is returned when a record is not in a state that allows the operation.
	ErrInvalidTransition = errors.New("invalid annotation status transition")

	// ErrRecordNotFound is returned for an unknown record id.
	ErrRecordNotFound = errors.New("annotation record not found")

	// ErrInvalidValue is returned when staging a null value or an empty key.
	ErrInvalidValue = errors.New("invalid annotation value")

	// ErrInvariant signals that the derived index diverged from the record log.
	// It is fatal for the session that observes it.
	ErrInvariant = errors.New("annotation store invariant violated")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	RecordID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: cannot move from %s to %s", e.RecordID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
