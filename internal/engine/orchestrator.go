package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/internal/taskqueue"
	"github.com/petrijr/caseflow/pkg/api"
	"github.com/petrijr/caseflow/pkg/worker"
)

// DefaultInterStepDelay separates consecutive steps of one instance.
const DefaultInterStepDelay = 5 * time.Second

// DefaultStuckAfter is how long an active instance may go without step
// activity before RecoverStuck re-enqueues its current step. It must exceed
// the inter-step delay and the largest retry backoff.
const DefaultStuckAfter = 15 * time.Minute

// Dispatcher runs the handler for a step. *dispatch.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, in api.StepInput) error
	Has(workflowType api.WorkflowType, stepID api.StepID) bool
}

// Enqueuer schedules step tasks. *worker.Worker implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, name taskqueue.TaskName, payload map[string]any, opts worker.EnqueueOptions) (worker.TaskHandle, error)
}

// Config describes how to construct an Orchestrator.
type Config struct {
	Registry   *Registry
	Dispatcher Dispatcher
	Instances  persistence.InstanceStore
	Steps      persistence.StepStore
	Enqueuer   Enqueuer

	// InterStepDelay is the delay before the next step of an instance
	// becomes eligible. Zero means DefaultInterStepDelay; negative means none.
	InterStepDelay time.Duration

	// MaxAttempts and Backoff are attached to every step task. Zero values
	// leave the worker defaults in place.
	MaxAttempts int
	Backoff     *taskqueue.Backoff

	// FailOnExhaustion moves an instance to StatusFailed once its current
	// step has used up all retries. By default the instance stays active
	// at that step for manual intervention.
	FailOnExhaustion bool

	Observer api.Observer
	Logger   *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Orchestrator creates workflow instances and advances them one step per
// task. It implements api.Orchestrator.
type Orchestrator struct {
	registry   *Registry
	dispatcher Dispatcher
	instances  persistence.InstanceStore
	steps      persistence.StepStore
	enqueuer   Enqueuer

	interStepDelay   time.Duration
	maxAttempts      int
	backoff          *taskqueue.Backoff
	failOnExhaustion bool

	observer api.Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

var _ api.Orchestrator = (*Orchestrator)(nil)

// NewOrchestrator validates cfg and returns an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	case cfg.Instances == nil || cfg.Steps == nil:
		return nil, errors.New("orchestrator: instance and step stores are required")
	case cfg.Enqueuer == nil:
		return nil, errors.New("orchestrator: enqueuer is required")
	}

	o := &Orchestrator{
		registry:         cfg.Registry,
		dispatcher:       cfg.Dispatcher,
		instances:        cfg.Instances,
		steps:            cfg.Steps,
		enqueuer:         cfg.Enqueuer,
		interStepDelay:   cfg.InterStepDelay,
		maxAttempts:      cfg.MaxAttempts,
		backoff:          cfg.Backoff,
		failOnExhaustion: cfg.FailOnExhaustion,
		observer:         cfg.Observer,
		logger:           cfg.Logger,
		now:              cfg.Now,
		newID:            cfg.NewID,
	}
	if o.interStepDelay == 0 {
		o.interStepDelay = DefaultInterStepDelay
	} else if o.interStepDelay < 0 {
		o.interStepDelay = 0
	}
	if o.observer == nil {
		o.observer = api.NoopObserver{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// Attach registers the orchestrator as the step-task handler and
// exhaustion callback of w.
func (o *Orchestrator) Attach(w *worker.Worker) {
	w.Handle(taskqueue.TaskExecuteStep, o.HandleTask)
	w.SetFailureFunc(o.HandleExhausted)
}

// TriggerWorkflow creates a new active instance at step 0 and enqueues its
// first step with no delay.
func (o *Orchestrator) TriggerWorkflow(ctx context.Context, workflowType api.WorkflowType, entityID string, payload api.Payload, actorID string) (*api.WorkflowInstance, error) {
	def, err := o.registry.Get(workflowType)
	if err != nil {
		return nil, err
	}
	if entityID == "" {
		return nil, api.ErrInvalidEntity
	}
	for _, s := range def.Steps {
		if !o.dispatcher.Has(def.Type, s.ID) {
			return nil, &api.UnknownStepError{WorkflowType: def.Type, StepID: s.ID}
		}
	}

	now := o.now()
	inst := &api.WorkflowInstance{
		ID:               o.newID(),
		WorkflowType:     def.Type,
		EntityID:         entityID,
		Status:           api.StatusActive,
		CurrentStepIndex: 0,
		Payload:          payload.Clone(),
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        actorID,
	}
	if err := o.instances.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}
	o.observer.OnWorkflowStart(ctx, inst)

	if err := o.enqueueStep(ctx, inst, def.Steps[0].ID, 0); err != nil {
		return inst, err
	}
	return inst, nil
}

func (o *Orchestrator) enqueueStep(ctx context.Context, inst *api.WorkflowInstance, stepID api.StepID, delay time.Duration) error {
	_, err := o.enqueuer.Enqueue(ctx, taskqueue.TaskExecuteStep, inst.Payload, worker.EnqueueOptions{
		InstanceID:  inst.ID,
		StepID:      string(stepID),
		Delay:       delay,
		MaxAttempts: o.maxAttempts,
		Backoff:     o.backoff,
	})
	if err != nil {
		o.logger.Error("enqueue step failed",
			"workflow", inst.WorkflowType,
			"instance_id", inst.ID,
			"step", stepID,
			"error", err,
		)
		return fmt.Errorf("enqueue step %s of %s: %w", stepID, inst.ID, err)
	}
	return nil
}

// HandleTask adapts ExecuteStep to worker.HandlerFunc.
func (o *Orchestrator) HandleTask(ctx context.Context, task taskqueue.Task) error {
	return o.ExecuteStep(ctx, task.InstanceID, api.StepID(task.StepID), task.Payload)
}

// ExecuteStep runs one step of an instance. Redelivered, stale and
// out-of-order tasks are absorbed and return nil; a handler error is
// returned so the queue retries the task.
func (o *Orchestrator) ExecuteStep(ctx context.Context, instanceID string, stepID api.StepID, payload api.Payload) error {
	inst, err := o.instances.GetInstance(ctx, instanceID)
	if errors.Is(err, api.ErrInstanceNotFound) {
		o.logger.Info("step for unknown instance ignored", "instance_id", instanceID, "step", stepID)
		return nil
	}
	if err != nil {
		return err
	}

	def, err := o.registry.Get(inst.WorkflowType)
	if err != nil {
		return err
	}

	idx := def.StepIndex(stepID)
	switch {
	case inst.Status != api.StatusActive || (idx >= 0 && idx < inst.CurrentStepIndex):
		o.logger.Debug("duplicate step delivery ignored",
			"workflow", inst.WorkflowType,
			"instance_id", inst.ID,
			"step", stepID,
			"status", inst.Status,
			"current_step_index", inst.CurrentStepIndex,
		)
		return nil
	case idx != inst.CurrentStepIndex:
		o.logger.Warn("step does not match current step",
			"workflow", inst.WorkflowType,
			"instance_id", inst.ID,
			"step", stepID,
			"current_step", def.Steps[inst.CurrentStepIndex].ID,
		)
		return nil
	}

	records, err := o.steps.ListStepRecords(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("list step records: %w", err)
	}
	attempts := 0
	for _, r := range records {
		if r.StepIndex != idx {
			continue
		}
		if r.Status == api.StepCompleted {
			// Handler already succeeded; only the advance was lost.
			return o.advance(ctx, inst, def, idx)
		}
		attempts++
	}

	if payload == nil {
		payload = inst.Payload
	}

	start := o.now()
	rec := &api.StepRecord{
		ID:                 o.newID(),
		WorkflowInstanceID: inst.ID,
		StepID:             stepID,
		StepIndex:          idx,
		Attempt:            attempts + 1,
		Status:             api.StepRunning,
		StartedAt:          start,
	}
	if err := o.steps.AppendStepRecord(ctx, rec); err != nil {
		return fmt.Errorf("append step record: %w", err)
	}

	o.observer.OnStepStart(ctx, inst, stepID, idx)

	runErr := o.dispatcher.Dispatch(ctx, api.StepInput{
		InstanceID:   inst.ID,
		WorkflowType: inst.WorkflowType,
		EntityID:     inst.EntityID,
		StepID:       stepID,
		StepIndex:    idx,
		Payload:      payload,
	})

	end := o.now()
	rec.CompletedAt = &end
	if runErr != nil {
		rec.Status = api.StepFailed
		rec.Error = runErr.Error()
	} else {
		rec.Status = api.StepCompleted
	}
	if err := o.steps.UpdateStepRecord(ctx, rec); err != nil {
		return errors.Join(runErr, fmt.Errorf("update step record: %w", err))
	}

	o.observer.OnStepCompleted(ctx, inst, stepID, idx, runErr, end.Sub(start))

	if runErr != nil {
		return fmt.Errorf("step %s of %s: %w", stepID, inst.ID, runErr)
	}
	return o.advance(ctx, inst, def, idx)
}

// advance moves inst past step idx, either to the next step or to
// completion. A lost compare-and-set means another delivery already did it.
func (o *Orchestrator) advance(ctx context.Context, inst *api.WorkflowInstance, def api.WorkflowDefinition, idx int) error {
	now := o.now()

	if idx+1 < len(def.Steps) {
		err := o.instances.AdvanceInstance(ctx, inst.ID, idx, now)
		if errors.Is(err, api.ErrStaleInstance) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("advance instance: %w", err)
		}
		inst.CurrentStepIndex = idx + 1
		inst.UpdatedAt = now
		return o.enqueueStep(ctx, inst, def.Steps[idx+1].ID, o.interStepDelay)
	}

	err := o.instances.CompleteInstance(ctx, inst.ID, idx, now)
	if errors.Is(err, api.ErrStaleInstance) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete instance: %w", err)
	}
	inst.Status = api.StatusCompleted
	inst.UpdatedAt = now
	inst.CompletedAt = &now
	o.observer.OnWorkflowCompleted(ctx, inst)
	return nil
}

// HandleExhausted is the worker.FailureFunc for step tasks. The instance
// stays active at the failed step unless FailOnExhaustion is set.
func (o *Orchestrator) HandleExhausted(ctx context.Context, task taskqueue.Task, cause error) {
	if task.Name != taskqueue.TaskExecuteStep {
		return
	}
	inst, err := o.instances.GetInstance(ctx, task.InstanceID)
	if err != nil {
		o.logger.Error("exhausted step for unreadable instance",
			"instance_id", task.InstanceID,
			"step", task.StepID,
			"error", err,
		)
		return
	}

	stepID := api.StepID(task.StepID)
	o.observer.OnStepExhausted(ctx, inst, stepID, cause)

	if !o.failOnExhaustion || inst.Status != api.StatusActive {
		return
	}
	def, err := o.registry.Get(inst.WorkflowType)
	if err != nil {
		return
	}
	idx := def.StepIndex(stepID)
	if idx != inst.CurrentStepIndex {
		return
	}
	if err := o.instances.FailInstance(ctx, inst.ID, idx, o.now()); err != nil && !errors.Is(err, api.ErrStaleInstance) {
		o.logger.Error("fail instance after exhaustion",
			"workflow", inst.WorkflowType,
			"instance_id", inst.ID,
			"error", err,
		)
	}
}

// RecoverStuck re-enqueues the current step of every active instance with no
// step activity for olderThan. It covers tasks lost when a worker died after
// claiming them and advances whose follow-up enqueue failed. Steps that have
// used up their attempts are left for manual intervention. Duplicate
// deliveries are absorbed by ExecuteStep. Returns the number of instances
// re-enqueued.
func (o *Orchestrator) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultStuckAfter
	}
	active, err := o.instances.ListInstances(ctx, api.InstanceListOptions{Status: api.StatusActive})
	if err != nil {
		return 0, fmt.Errorf("list active instances: %w", err)
	}

	maxAttempts := o.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = worker.DefaultMaxAttempts
	}
	cutoff := o.now().Add(-olderThan)

	var (
		recovered int
		errs      []error
	)
	for _, inst := range active {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		def, err := o.registry.Get(inst.WorkflowType)
		if err != nil || inst.CurrentStepIndex >= len(def.Steps) {
			continue
		}
		records, err := o.steps.ListStepRecords(ctx, inst.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("list step records of %s: %w", inst.ID, err))
			continue
		}

		last := inst.UpdatedAt
		failed := 0
		for _, r := range records {
			if r.StepIndex != inst.CurrentStepIndex {
				continue
			}
			if r.Status == api.StepFailed {
				failed++
			}
			if r.StartedAt.After(last) {
				last = r.StartedAt
			}
			if r.CompletedAt != nil && r.CompletedAt.After(last) {
				last = *r.CompletedAt
			}
		}
		if failed >= maxAttempts || !last.Before(cutoff) {
			continue
		}

		stepID := def.Steps[inst.CurrentStepIndex].ID
		if err := o.enqueueStep(ctx, inst, stepID, 0); err != nil {
			errs = append(errs, err)
			continue
		}
		o.logger.Warn("re-enqueued stuck step",
			"workflow", inst.WorkflowType,
			"instance_id", inst.ID,
			"step", stepID,
			"idle_since", last,
		)
		recovered++
	}
	return recovered, errors.Join(errs...)
}

// GetInstance returns the instance with the given id.
func (o *Orchestrator) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	return o.instances.GetInstance(ctx, id)
}

// ListInstances returns instances matching opts.
func (o *Orchestrator) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	return o.instances.ListInstances(ctx, opts)
}

// StepRecords returns every step attempt of an instance in start order.
func (o *Orchestrator) StepRecords(ctx context.Context, instanceID string) ([]api.StepRecord, error) {
	if _, err := o.instances.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return o.steps.ListStepRecords(ctx, instanceID)
}

// Definition returns the registered definition for workflowType.
func (o *Orchestrator) Definition(workflowType api.WorkflowType) (api.WorkflowDefinition, error) {
	return o.registry.Get(workflowType)
}

// Progress returns the completion percentage of inst.
func (o *Orchestrator) Progress(inst *api.WorkflowInstance) int {
	def, err := o.registry.Get(inst.WorkflowType)
	if err != nil {
		return 0
	}
	return api.Progress(inst, len(def.Steps))
}
