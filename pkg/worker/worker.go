package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petrijr/caseflow/internal/taskqueue"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxAttempts applies when neither the task nor Config sets one.
const DefaultMaxAttempts = 3

// HandlerFunc processes one task. A non-nil error schedules a retry.
type HandlerFunc func(ctx context.Context, task taskqueue.Task) error

// FailureFunc is invoked once a task has used up all its attempts.
type FailureFunc func(ctx context.Context, task taskqueue.Task, err error)

// Config controls retry behaviour for tasks that don't carry their own.
type Config struct {
	// MaxAttempts includes the first attempt. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Backoff applies to tasks enqueued without an explicit Backoff.
	Backoff taskqueue.Backoff

	// OnFailure receives tasks whose retries are exhausted.
	OnFailure FailureFunc

	Logger *slog.Logger
}

// EnqueueOptions mirrors the producer-side knobs of a task.
type EnqueueOptions struct {
	InstanceID  string
	StepID      string
	Delay       time.Duration
	MaxAttempts int
	Backoff     *taskqueue.Backoff
}

// TaskHandle identifies an enqueued task.
type TaskHandle struct {
	ID        string
	Name      taskqueue.TaskName
	NotBefore time.Time
}

// ErrNoHandler is returned by ProcessOne for a task name nobody handles.
var ErrNoHandler = errors.New("no handler registered for task")

// Worker pulls tasks from a Queue and dispatches them by name.
type Worker struct {
	queue  taskqueue.Queue
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[taskqueue.TaskName]HandlerFunc
}

// New creates a Worker with the default configuration.
func New(queue taskqueue.Queue) *Worker {
	return NewWithConfig(queue, Config{})
}

// NewWithConfig creates a Worker with the given retry configuration.
func NewWithConfig(queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[taskqueue.TaskName]HandlerFunc),
	}
}

// Handle registers fn for tasks named name, replacing any previous handler.
func (w *Worker) Handle(name taskqueue.TaskName, fn HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = fn
}

// SetFailureFunc replaces the exhaustion callback.
func (w *Worker) SetFailureFunc(fn FailureFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.OnFailure = fn
}

// Enqueue adds a task named name to the queue.
func (w *Worker) Enqueue(ctx context.Context, name taskqueue.TaskName, payload map[string]any, opts EnqueueOptions) (TaskHandle, error) {
	now := time.Now()
	t := taskqueue.Task{
		ID:          uuid.NewString(),
		Name:        name,
		InstanceID:  opts.InstanceID,
		StepID:      opts.StepID,
		Payload:     payload,
		EnqueuedAt:  now,
		NotBefore:   now.Add(opts.Delay),
		MaxAttempts: opts.MaxAttempts,
		Backoff:     w.cfg.Backoff,
	}
	if opts.Backoff != nil {
		t.Backoff = *opts.Backoff
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return TaskHandle{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return TaskHandle{ID: t.ID, Name: name, NotBefore: t.NotBefore}, nil
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or queue error).
//   - processed == true: a task was handled; err is the handler's error.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	w.mu.RLock()
	fn, ok := w.handlers[task.Name]
	onFailure := w.cfg.OnFailure
	w.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %q", ErrNoHandler, task.Name)
		w.logger.Error("task dropped", "task_id", task.ID, "task", task.Name, "error", err)
		if onFailure != nil {
			onFailure(ctx, *task, err)
		}
		return true, err
	}

	runErr := w.run(ctx, fn, *task)
	if runErr == nil {
		return true, nil
	}

	task.Attempts++
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.cfg.MaxAttempts
	}

	if task.Attempts >= maxAttempts {
		w.logger.Error("task retries exhausted",
			"task_id", task.ID,
			"task", task.Name,
			"instance_id", task.InstanceID,
			"step", task.StepID,
			"attempts", task.Attempts,
			"error", runErr,
		)
		if onFailure != nil {
			onFailure(ctx, *task, runErr)
		}
		return true, runErr
	}

	delay := task.Backoff.Delay(task.Attempts)
	task.NotBefore = time.Now().Add(delay)
	w.logger.Warn("task failed, retrying",
		"task_id", task.ID,
		"task", task.Name,
		"instance_id", task.InstanceID,
		"step", task.StepID,
		"attempt", task.Attempts,
		"retry_in", delay,
		"error", runErr,
	)
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), *task); err != nil {
		return true, errors.Join(runErr, fmt.Errorf("re-enqueue task %s: %w", task.ID, err))
	}
	return true, runErr
}

// run invokes fn, turning a panic into an error so the task is retried.
func (w *Worker) run(ctx context.Context, fn HandlerFunc, task taskqueue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return fn(ctx, task)
}

// Queue error backoff bounds for Run.
const (
	minQueueErrorDelay = 50 * time.Millisecond
	maxQueueErrorDelay = 5 * time.Second
)

// Run processes tasks with the given number of goroutines until ctx is
// cancelled. Handler errors are logged by ProcessOne and do not stop the
// loop. Queue errors are logged and retried with a capped backoff.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			delay := minQueueErrorDelay
			for {
				processed, err := w.ProcessOne(gctx)
				if gctx.Err() != nil {
					return nil
				}
				if processed || err == nil {
					delay = minQueueErrorDelay
					continue
				}

				w.logger.Warn("dequeue failed",
					"retry_in", delay,
					"error", err,
				)
				t := time.NewTimer(delay)
				select {
				case <-gctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
				delay = min(delay*2, maxQueueErrorDelay)
			}
		})
	}
	return g.Wait()
}
