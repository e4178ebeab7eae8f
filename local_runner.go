package caseflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/caseflow/internal/notify"
	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/internal/taskqueue"
)

// LocalRunner bundles an in-memory Runtime, an in-memory case store and a
// capturing notifier for development and debugging.
//
// Typical usage:
//
//	runner, _ := caseflow.NewLocalRunner()
//	runner.Cases.PutCase(api.CaseRef{ID: "case-1", Status: "submitted"})
//	_ = runner.StartWorkers(ctx, 2)
//	inst, _ := runner.TriggerWorkflow(ctx, caseflow.WorkflowCaseProcessing, "case-1", nil, "dev")
//	...
//	runner.Stop()
type LocalRunner struct {
	*Runtime

	// Cases is the in-memory case store, reviewer directory and peer
	// review store used by the built-in steps.
	Cases *persistence.InMemoryCaseStore

	// Notifications captures everything the steps sent.
	Notifications *notify.MemoryNotifier

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewLocalRunner constructs a LocalRunner with no inter-step delay and
// immediate retries. Options may tune the Runtime further; Stores, Queue
// and the case collaborators are always the in-memory ones.
func NewLocalRunner(opts ...func(*Options)) (*LocalRunner, error) {
	cases := persistence.NewInMemoryCaseStore()
	notifier := &notify.MemoryNotifier{}

	o := Options{
		InterStepDelay: -1,
		Retry:          Retry(3).Immediate().Ptr(),
		Notifier:       notifier,
	}
	for _, fn := range opts {
		fn(&o)
	}
	o.Stores = persistence.NewInMemory()
	o.Queue = taskqueue.NewInMemoryQueue(1024)
	o.Cases = cases
	o.Directory = cases
	o.Reviews = cases

	rt, err := New(o)
	if err != nil {
		return nil, err
	}
	return &LocalRunner{Runtime: rt, Cases: cases, Notifications: notifier}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that run until Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("caseflow: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go func(done chan struct{}) {
		defer close(done)
		if err := r.Worker.Run(ctx, concurrency); err != nil {
			r.logger.Error("local runner workers stopped", "error", err)
		}
	}(r.done)
	return nil
}

// Stop cancels the workers started by StartWorkers and waits for them to
// exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	<-done
}

// WaitForStatus polls an instance until it reaches status or ctx ends.
func (r *LocalRunner) WaitForStatus(ctx context.Context, instanceID string, status Status) (*WorkflowInstance, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		inst, err := r.Orchestrator.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.Status == status {
			return inst, nil
		}
		select {
		case <-ctx.Done():
			return inst, ctx.Err()
		case <-ticker.C:
		}
	}
}
