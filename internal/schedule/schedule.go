// Package schedule runs jobs on fixed intervals.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/caseflow/pkg/api"
)

// Default cadences.
const (
	DefaultBreachScanInterval = 15 * time.Minute
	DefaultDetectionInterval  = time.Hour
	DefaultRecoveryInterval   = 5 * time.Minute
)

// SystemEntityID is the entity id used for scheduler-triggered workflows.
const SystemEntityID = "system"

// Job is a function run every Interval.
type Job struct {
	Name     string
	Interval time.Duration

	// RunOnStart runs the job once before the first tick.
	RunOnStart bool

	Run func(ctx context.Context) error
}

// Scheduler runs each job in its own ticker loop. A failing or panicking
// job is logged and runs again on its next tick.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

// New returns a Scheduler for jobs.
func New(logger *slog.Logger, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, errors.New("schedule: job needs a name and a func")
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("schedule: job %s has no interval", j.Name)
		}
	}
	return &Scheduler{jobs: jobs, logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(gctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	s.logger.Info("scheduled job started", "job", j.Name, "interval", j.Interval)
	if j.RunOnStart {
		s.runOnce(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled job stopped", "job", j.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panic: %v", r)
			}
		}()
		return j.Run(ctx)
	}()
	if err != nil {
		s.logger.Error("scheduled job failed", "job", j.Name, "error", err)
		return
	}
	s.logger.Debug("scheduled job finished", "job", j.Name, "took", time.Since(start))
}

// BreachScanner is implemented by *sla.Monitor.
type BreachScanner interface {
	ScanBreaches(ctx context.Context) (api.ComplianceReport, error)
}

// BreachScanJob runs the SLA breach scan.
func BreachScanJob(m BreachScanner, interval time.Duration) Job {
	if interval <= 0 {
		interval = DefaultBreachScanInterval
	}
	return Job{
		Name:     "sla_breach_scan",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := m.ScanBreaches(ctx)
			return err
		},
	}
}

// Trigger starts workflow instances. *engine.Orchestrator implements it.
type Trigger interface {
	TriggerWorkflow(ctx context.Context, workflowType api.WorkflowType, entityID string, payload api.Payload, actorID string) (*api.WorkflowInstance, error)
}

// ExceptionDetectionJob triggers the exception_handling workflow.
func ExceptionDetectionJob(t Trigger, interval time.Duration) Job {
	if interval <= 0 {
		interval = DefaultDetectionInterval
	}
	return Job{
		Name:     "exception_detection",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := t.TriggerWorkflow(ctx, api.WorkflowExceptionHandling, SystemEntityID, api.Payload{
				"scheduled_at": time.Now().UTC(),
			}, "scheduler")
			return err
		},
	}
}

// Recoverer re-enqueues stalled instances. *engine.Orchestrator implements it.
type Recoverer interface {
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// StuckRecoveryJob re-enqueues steps of instances idle for olderThan.
func StuckRecoveryJob(r Recoverer, interval, olderThan time.Duration) Job {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return Job{
		Name:     "stuck_recovery",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := r.RecoverStuck(ctx, olderThan)
			return err
		},
	}
}
