package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	// ErrDuplicateDialogID indicates a caller-supplied dialog id is already pending.
	ErrDuplicateDialogID = errors.New("duplicate dialog id")

	// ErrDialogCancelled indicates a dialog wait ended without an answer.
	ErrDialogCancelled = errors.New("dialog cancelled")

	// ErrBrokerClosed indicates the session stopped accepting dialogs.
	ErrBrokerClosed = errors.New("dialog broker closed")

	// ErrTaskCancelled lets a task body abort with a Cancelled outcome
	// (for example when the user declines a confirmation).
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrUnknownTaskType indicates StartTask named an unregistered task type.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrAlreadyServing indicates Serve was called twice on one controller.
	ErrAlreadyServing = errors.New("session already served")

	// ErrSessionNotFound indicates no live session has the given id.
	ErrSessionNotFound = errors.New("session not found")
)

// TaskError wraps a task body failure, including recovered panics.
type TaskError struct {
	TaskType string
	Panic    any   // non-nil when the task panicked
	Err      error // underlying error when the task returned one
}

// Error returns formatted error message
func (e *TaskError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.TaskType, e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskType, e.Err)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Err
}
