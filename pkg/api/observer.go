package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestrator for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay step execution.
type Observer interface {
	// OnWorkflowStart is called once when an instance has been created,
	// before its first step is enqueued.
	OnWorkflowStart(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowCompleted is called when an instance reaches StatusCompleted.
	OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnStepStart is called before invoking a step handler.
	OnStepStart(ctx context.Context, inst *WorkflowInstance, stepID StepID, stepIndex int)

	// OnStepCompleted is called after a step handler returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, inst *WorkflowInstance, stepID StepID, stepIndex int, err error, duration time.Duration)

	// OnStepExhausted is called when the task queue gave up retrying a step.
	// The instance is left at that step unless the orchestrator is
	// configured to fail it.
	OnStepExhausted(ctx context.Context, inst *WorkflowInstance, stepID StepID, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance)     {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {}
func (NoopObserver) OnStepStart(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int, err error, d time.Duration) {
}
func (NoopObserver) OnStepExhausted(ctx context.Context, inst *WorkflowInstance, stepID StepID, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, inst, stepID, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, inst, stepID, idx, err, d)
	}
}

func (c *CompositeObserver) OnStepExhausted(ctx context.Context, inst *WorkflowInstance, stepID StepID, err error) {
	for _, o := range c.observers {
		o.OnStepExhausted(ctx, inst, stepID, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_start",
		slog.String("workflow", string(inst.WorkflowType)),
		slog.String("instance_id", inst.ID),
		slog.String("entity_id", inst.EntityID),
		slog.String("created_by", inst.CreatedBy),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_completed",
		slog.String("workflow", string(inst.WorkflowType)),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", string(inst.WorkflowType)),
		slog.String("instance_id", inst.ID),
		slog.String("step", string(stepID)),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow", string(inst.WorkflowType)),
		slog.String("instance_id", inst.ID),
		slog.String("step", string(stepID)),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepExhausted(ctx context.Context, inst *WorkflowInstance, stepID StepID, err error) {
	o.Logger.ErrorContext(ctx, "step_retries_exhausted",
		slog.String("workflow", string(inst.WorkflowType)),
		slog.String("instance_id", inst.ID),
		slog.String("step", string(stepID)),
		slog.String("status", string(inst.Status)),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted   atomic.Int64
	workflowsCompleted atomic.Int64
	stepsCompleted     atomic.Int64
	stepsFailed        atomic.Int64
	stepsExhausted     atomic.Int64
	totalStepDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsCompleted int64
	ActiveWorkflows    int64

	StepsCompleted  int64
	StepsFailed     int64
	StepsExhausted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsCompleted.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, inst *WorkflowInstance, stepID StepID, idx int, err error, d time.Duration) {
	if err != nil {
		m.stepsFailed.Add(1)
		return
	}
	// Only successful steps count toward the average duration.
	m.stepsCompleted.Add(1)
	m.totalStepDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnStepExhausted(ctx context.Context, inst *WorkflowInstance, stepID StepID, err error) {
	m.stepsExhausted.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	completed := m.workflowsCompleted.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted:   started,
		WorkflowsCompleted: completed,
		ActiveWorkflows:    started - completed,
		StepsCompleted:     steps,
		StepsFailed:        m.stepsFailed.Load(),
		StepsExhausted:     m.stepsExhausted.Load(),
		AvgStepDuration:    avg,
	}
}
