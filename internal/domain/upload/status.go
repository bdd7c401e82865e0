// Package upload holds the upload aggregate: its lifecycle state machine,
// progress counters, row-level error records and the result summary written
// when insertion completes. Persistence and transport live elsewhere.
package upload

import (
	"fmt"

	"github.com/turtacn/molingest/pkg/errors"
)

// Status is the lifecycle state of an Upload.
type Status string

const (
	StatusInitiated        Status = "initiated"
	StatusValidating       Status = "validating"
	StatusValidationFailed Status = "validation_failed"
	StatusAwaitingConfirm  Status = "awaiting_confirm"
	StatusCancelled        Status = "cancelled"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{
	StatusInitiated,
	StatusValidating,
	StatusValidationFailed,
	StatusAwaitingConfirm,
	StatusCancelled,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// transitions is the complete edge set of the lifecycle graph. States absent
// from the map are terminal.
var transitions = map[Status][]Status{
	StatusInitiated:       {StatusValidating},
	StatusValidating:      {StatusAwaitingConfirm, StatusValidationFailed, StatusFailed},
	StatusAwaitingConfirm: {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusCompleted, StatusFailed},
}

// IsValid reports whether s is one of the known states.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether s → target is an edge of the graph.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a persisted value back into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", errors.InvalidParam("unknown upload status").WithDetail(v)
	}
	return s, nil
}

// InvalidTransitionError is returned when a transition is not in the graph.
// The upload is left unchanged.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("[%s] cannot transition upload from %s to %s",
		errors.ErrCodeUploadInvalidTransition, e.From, e.To)
}

// Code returns the error code carried by every invalid transition.
func (e *InvalidTransitionError) Code() errors.ErrorCode {
	return errors.ErrCodeUploadInvalidTransition
}

// Unwrap exposes an AppError so errors.IsConflict and HTTP mapping see the code.
func (e *InvalidTransitionError) Unwrap() error {
	return &errors.AppError{
		Code:    errors.ErrCodeUploadInvalidTransition,
		Message: fmt.Sprintf("cannot transition upload from %s to %s", e.From, e.To),
	}
}

// ErrStaleStatus is returned by repositories when a compare-and-set status
// update finds the row no longer in the expected state.
var ErrStaleStatus = &errors.AppError{
	Code:    errors.ErrCodeUploadStaleStatus,
	Message: "upload status changed concurrently",
}

// ErrNotFound is returned when an upload does not exist for the tenant.
var ErrNotFound = &errors.AppError{
	Code:    errors.ErrCodeUploadNotFound,
	Message: "upload not found",
}
