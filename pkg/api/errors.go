package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWorkflow is returned when a workflow type is not registered.
	ErrUnknownWorkflow = errors.New("unknown workflow type")

	// ErrInvalidEntity is returned when a trigger carries no entity id.
	ErrInvalidEntity = errors.New("entity id is required")

	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrStaleInstance is returned by conditional instance updates when the
	// stored step index no longer matches the expected one.
	ErrStaleInstance = errors.New("instance was advanced concurrently")

	// ErrNoReviewerAvailable is returned when no eligible peer reviewer exists.
	ErrNoReviewerAvailable = errors.New("no reviewer available")

	// ErrCaseNotFound is returned by case stores for unknown case ids.
	ErrCaseNotFound = errors.New("case not found")

	ErrExceptionNotFound = errors.New("exception not found")
	ErrExceptionResolved = errors.New("exception already resolved")
)

// UnknownStepError is returned by dispatch when no handler is registered
// for a (workflow type, step id) pair.
type UnknownStepError struct {
	WorkflowType WorkflowType
	StepID       StepID
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("no handler registered for step %s:%s", e.WorkflowType, e.StepID)
}

// IsUnknownStep reports whether err is (or wraps) an *UnknownStepError.
func IsUnknownStep(err error) bool {
	var u *UnknownStepError
	return errors.As(err, &u)
}
