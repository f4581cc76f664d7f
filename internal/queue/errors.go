package queue

import (
	"errors"
	"fmt"

	"applytrack/internal/services"
)

var (
	// ErrNotFound is returned for unknown item ids.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidTransition is returned when a status change is not permitted.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrActiveTaskExists is returned when an equivalent item is already pending or processing.
	ErrActiveTaskExists = errors.New("active task already exists")
)

// ErrorClassifier allows errors to declare their classification so callers
// can map them to responses without matching on message text.
type ErrorClassifier interface {
	// ErrorKind returns one of "not_found", "conflict", or "validation".
	ErrorKind() string
}

// NotFoundError reports an unknown item id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("queue item %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || target == services.ErrNotFound
}

func (e *NotFoundError) ErrorKind() string { return "not_found" }

// TransitionError reports a status change the state machine rejects.
type TransitionError struct {
	ID     string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("cannot move item %s from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func (e *TransitionError) ErrorKind() string { return "conflict" }

// ConflictError reports an in-flight item that blocks a new submission.
type ConflictError struct {
	Type       Type
	Key        string
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("an active %s task already exists for %s", e.Type, e.Key)
	}
	return fmt.Sprintf("an active %s task already exists for %s (item %s)", e.Type, e.Key, e.ExistingID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrActiveTaskExists
}

func (e *ConflictError) ErrorKind() string { return "conflict" }

// ValidationError reports a submission or patch with invalid fields.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == services.ErrValidation
}

func (e *ValidationError) ErrorKind() string { return "validation" }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
