package api

import "context"

// Orchestrator drives workflow instances through their steps.
type Orchestrator interface {
	// TriggerWorkflow creates a new active instance at step 0 and enqueues
	// its first step. Unknown workflow types and empty entity ids fail
	// before any state is created.
	TriggerWorkflow(ctx context.Context, workflowType WorkflowType, entityID string, payload Payload, actorID string) (*WorkflowInstance, error)

	// ExecuteStep runs one step of an instance. It is invoked by the task
	// queue and tolerates redelivery: duplicate or stale deliveries are
	// absorbed without error.
	ExecuteStep(ctx context.Context, instanceID string, stepID StepID, payload Payload) error

	// GetInstance looks up a workflow instance by ID.
	// Returns ErrInstanceNotFound if the instance does not exist.
	GetInstance(ctx context.Context, id string) (*WorkflowInstance, error)

	// ListInstances returns workflow instances matching the given options.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)

	// StepRecords returns every step attempt of an instance in start order.
	StepRecords(ctx context.Context, instanceID string) ([]StepRecord, error)

	// Definition returns the definition for a workflow type.
	Definition(workflowType WorkflowType) (WorkflowDefinition, error)
}
