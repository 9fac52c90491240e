package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input to job creation or parsing.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConsistency marks store integrity violations, e.g. duplicate job ids.
	ErrConsistency = errors.New("consistency error")
	// ErrConflict marks an operation refused because of concurrent state,
	// such as a duplicate active job for the same name.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is the sentinel wrapped by InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
)

// InvalidTransitionError reports a job status transition refused either
// because the actor class is not authorized for the requested status or
// because the current status does not legally precede it.
type InvalidTransitionError struct {
	Actor     Actor
	Current   JobStatus
	Requested JobStatus
}

func (e *InvalidTransitionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Current == "" {
		return fmt.Sprintf("actor %q cannot request status %q", e.Actor, e.Requested)
	}
	return fmt.Sprintf("job status %q cannot move to %q", e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
