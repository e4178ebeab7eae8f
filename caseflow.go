package caseflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/caseflow/internal/dispatch"
	"github.com/petrijr/caseflow/internal/engine"
	"github.com/petrijr/caseflow/internal/exceptions"
	"github.com/petrijr/caseflow/internal/httpapi"
	"github.com/petrijr/caseflow/internal/metrics"
	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/internal/schedule"
	"github.com/petrijr/caseflow/internal/sla"
	"github.com/petrijr/caseflow/internal/steps"
	"github.com/petrijr/caseflow/internal/taskqueue"
	"github.com/petrijr/caseflow/pkg/api"
	"github.com/petrijr/caseflow/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	WorkflowType         = api.WorkflowType
	StepID               = api.StepID
	Payload              = api.Payload
	WorkflowDefinition   = api.WorkflowDefinition
	WorkflowInstance     = api.WorkflowInstance
	StepRecord           = api.StepRecord
	InstanceListOptions  = api.InstanceListOptions
	Status               = api.Status
	StepInput            = api.StepInput
	SLADefinition        = api.SLADefinition
	ComplianceReport     = api.ComplianceReport
	CaseException        = api.CaseException
	ExceptionFilter      = api.ExceptionFilter
	CaseStore            = api.CaseStore
	ReviewerDirectory    = api.ReviewerDirectory
	PeerReviewStore      = api.PeerReviewStore
	Notifier             = api.Notifier
	Observer             = api.Observer
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export built-in workflow types and instance statuses.

const (
	WorkflowCaseProcessing         = api.WorkflowCaseProcessing
	WorkflowProfessionalOnboarding = api.WorkflowProfessionalOnboarding
	WorkflowPeerReview             = api.WorkflowPeerReview
	WorkflowExceptionHandling      = api.WorkflowExceptionHandling

	StatusActive    = api.StatusActive
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
)

// Options describes the collaborators of a Runtime. Stores and Queue are
// required; everything else has a default.
type Options struct {
	Stores persistence.Persistence
	Queue  taskqueue.Queue

	Cases     api.CaseStore
	Directory api.ReviewerDirectory
	Reviews   api.PeerReviewStore
	Notifier  api.Notifier

	// Workflows defaults to the built-in catalog.
	Workflows []api.WorkflowDefinition
	// SLAs defaults to the built-in SLA table.
	SLAs []api.SLADefinition

	// Retry is applied to every step task. Defaults to Retry(3).
	Retry *RetryBuilder

	InterStepDelay   time.Duration
	FailOnExhaustion bool

	// Register adds handlers beyond the built-in ones, or replaces the
	// built-in wiring entirely when Workflows is set.
	Register func(r *dispatch.Registry) error

	AdminRecipient string
	MetricsNS      string
	Observer       api.Observer
	Logger         *slog.Logger
}

// Runtime is a fully wired engine: orchestrator, worker, SLA monitor,
// exception recorder and metrics.
type Runtime struct {
	Orchestrator *engine.Orchestrator
	Worker       *worker.Worker
	Queue        taskqueue.Queue
	Handlers     *dispatch.Registry
	Recorder     *exceptions.Recorder
	Monitor      *sla.Monitor
	Metrics      *metrics.Recorder

	logger *slog.Logger
}

// New wires a Runtime from opts.
func New(opts Options) (*Runtime, error) {
	if opts.Stores.Instances == nil || opts.Stores.Steps == nil || opts.Stores.Exceptions == nil {
		return nil, errors.New("caseflow: instance, step and exception stores are required")
	}
	if opts.Queue == nil {
		return nil, errors.New("caseflow: queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := Retry(3)
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	policy := retry.Policy()

	registry, err := newWorkflowRegistry(opts.Workflows)
	if err != nil {
		return nil, err
	}
	slaRegistry, err := newSLARegistry(opts.SLAs)
	if err != nil {
		return nil, err
	}

	m := metrics.New(opts.MetricsNS)
	if err := m.RegisterQueueDepth(opts.Queue.Len); err != nil {
		return nil, err
	}
	observer := api.NewCompositeObserver(api.NewLoggingObserver(logger), m)
	if opts.Observer != nil {
		observer = api.NewCompositeObserver(observer, opts.Observer)
	}

	recorder := exceptions.NewRecorder(opts.Stores.Exceptions, exceptions.WithLogger(logger))

	handlers := dispatch.NewRegistry()
	if opts.Workflows == nil {
		if err := steps.RegisterDefaults(handlers, steps.Deps{
			Cases:          opts.Cases,
			Directory:      opts.Directory,
			Reviews:        opts.Reviews,
			Notifier:       opts.Notifier,
			Recorder:       recorder,
			SLA:            slaRegistry,
			AdminRecipient: opts.AdminRecipient,
			Logger:         logger,
		}); err != nil {
			return nil, err
		}
	}
	if opts.Register != nil {
		if err := opts.Register(handlers); err != nil {
			return nil, err
		}
	}

	w := worker.NewWithConfig(opts.Queue, worker.Config{
		MaxAttempts: policy.MaxAttempts,
		Backoff:     policy.Backoff,
		Logger:      logger,
	})
	orch, err := engine.NewOrchestrator(engine.Config{
		Registry:         registry,
		Dispatcher:       handlers,
		Instances:        opts.Stores.Instances,
		Steps:            opts.Stores.Steps,
		Enqueuer:         w,
		InterStepDelay:   opts.InterStepDelay,
		MaxAttempts:      policy.MaxAttempts,
		Backoff:          &policy.Backoff,
		FailOnExhaustion: opts.FailOnExhaustion,
		Observer:         observer,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	orch.Attach(w)

	rt := &Runtime{
		Orchestrator: orch,
		Worker:       w,
		Queue:        opts.Queue,
		Handlers:     handlers,
		Recorder:     recorder,
		Metrics:      m,
		logger:       logger,
	}
	if opts.Cases != nil {
		rt.Monitor, err = sla.NewMonitor(sla.Config{
			Registry: slaRegistry,
			Cases:    opts.Cases,
			Recorder: recorder,
			Observer: m,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func newWorkflowRegistry(defs []api.WorkflowDefinition) (*engine.Registry, error) {
	if defs == nil {
		return engine.NewDefaultRegistry(), nil
	}
	return engine.NewRegistry(defs...)
}

func newSLARegistry(defs []api.SLADefinition) (*sla.Registry, error) {
	if defs == nil {
		return sla.NewDefaultRegistry(), nil
	}
	return sla.NewRegistry(defs...)
}

// TriggerWorkflow starts a workflow instance.
func (rt *Runtime) TriggerWorkflow(ctx context.Context, workflowType WorkflowType, entityID string, payload Payload, actorID string) (*WorkflowInstance, error) {
	return rt.Orchestrator.TriggerWorkflow(ctx, workflowType, entityID, payload, actorID)
}

// Server returns the HTTP API for this runtime.
func (rt *Runtime) Server() *httpapi.Server {
	s := &httpapi.Server{
		Workflows:  rt.Orchestrator,
		Exceptions: rt.Recorder,
		Metrics:    rt.Metrics.Handler(),
		Logger:     rt.logger,
	}
	if rt.Monitor != nil {
		s.Compliance = rt.Monitor
	} else {
		s.Compliance = emptyCompliance{}
	}
	return s
}

type emptyCompliance struct{}

func (emptyCompliance) Compute(ctx context.Context) api.ComplianceReport {
	return api.ComplianceReport{GeneratedAt: time.Now()}
}

// RunOptions controls Runtime.Run.
type RunOptions struct {
	Concurrency int

	// Schedule enables the breach scan and exception detection jobs.
	Schedule           bool
	BreachScanInterval time.Duration
	DetectionInterval  time.Duration

	// StuckAfter is the idle time after which an active instance's current
	// step is re-enqueued, once at startup and then every RecoveryInterval
	// when Schedule is set. Zero means engine.DefaultStuckAfter; negative
	// disables recovery.
	StuckAfter       time.Duration
	RecoveryInterval time.Duration

	// HTTPAddr starts the API when non-empty.
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// Run drives workers, scheduled jobs and the HTTP API until ctx is
// cancelled or one of them fails.
func (rt *Runtime) Run(ctx context.Context, opts RunOptions) error {
	recovery := opts.StuckAfter >= 0
	if recovery {
		n, err := rt.Orchestrator.RecoverStuck(ctx, opts.StuckAfter)
		if err != nil {
			rt.logger.Error("startup recovery failed", "error", err)
		} else if n > 0 {
			rt.logger.Info("startup recovery re-enqueued steps", "instances", n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Worker.Run(gctx, opts.Concurrency)
	})

	if opts.Schedule {
		jobs := []schedule.Job{
			schedule.ExceptionDetectionJob(rt.Orchestrator, opts.DetectionInterval),
		}
		if recovery {
			jobs = append(jobs, schedule.StuckRecoveryJob(rt.Orchestrator, opts.RecoveryInterval, opts.StuckAfter))
		}
		if rt.Monitor != nil {
			jobs = append(jobs, schedule.BreachScanJob(rt.Monitor, opts.BreachScanInterval))
		}
		s, err := schedule.New(rt.logger, jobs...)
		if err != nil {
			return err
		}
		g.Go(func() error { return s.Run(gctx) })
	}

	if opts.HTTPAddr != "" {
		timeout := opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		srv := rt.Server()
		g.Go(func() error {
			rt.logger.Info("http api listening", "addr", opts.HTTPAddr)
			return srv.ListenAndServe(gctx, opts.HTTPAddr, timeout)
		})
	}

	return g.Wait()
}
