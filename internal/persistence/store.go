package persistence

import (
	"context"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// InstanceStore handles storage of workflow instances.
//
// Instances are never deleted. Step progression goes through
// AdvanceInstance/CompleteInstance, which only succeed when the stored
// instance is still active at expectedIndex; otherwise they return
// api.ErrStaleInstance and leave the row untouched.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)
	ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error)

	// AdvanceInstance moves an active instance from expectedIndex to
	// expectedIndex+1.
	AdvanceInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error

	// CompleteInstance marks an active instance at expectedIndex completed
	// and stamps CompletedAt.
	CompleteInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error

	// FailInstance marks an active instance at expectedIndex failed.
	FailInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error
}

// StepStore keeps the append-only step execution history.
type StepStore interface {
	AppendStepRecord(ctx context.Context, rec *api.StepRecord) error

	// UpdateStepRecord finalizes an attempt (status, completion time, error).
	UpdateStepRecord(ctx context.Context, rec *api.StepRecord) error

	// ListStepRecords returns records for an instance ordered by start time.
	ListStepRecords(ctx context.Context, instanceID string) ([]api.StepRecord, error)
}

// ExceptionStore keeps case exceptions.
type ExceptionStore interface {
	SaveException(ctx context.Context, ex *api.CaseException) error
	GetException(ctx context.Context, id string) (*api.CaseException, error)

	// ListExceptions returns matching exceptions, newest first.
	ListExceptions(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error)

	// ResolveException moves an open exception to resolved. It returns
	// api.ErrExceptionNotFound or api.ErrExceptionResolved.
	ResolveException(ctx context.Context, id, actor string, at time.Time) (*api.CaseException, error)
}

func matchesInstance(inst *api.WorkflowInstance, opts api.InstanceListOptions) bool {
	if opts.WorkflowType != "" && inst.WorkflowType != opts.WorkflowType {
		return false
	}
	if opts.Status != "" && inst.Status != opts.Status {
		return false
	}
	if opts.EntityID != "" && inst.EntityID != opts.EntityID {
		return false
	}
	return true
}

func matchesException(ex *api.CaseException, f api.ExceptionFilter) bool {
	if f.Type != "" && ex.Type != f.Type {
		return false
	}
	if f.Status != "" && ex.Status != f.Status {
		return false
	}
	if f.Severity != "" && ex.Severity != f.Severity {
		return false
	}
	return true
}
