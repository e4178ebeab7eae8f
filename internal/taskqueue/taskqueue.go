package taskqueue

import (
	"context"
	"time"
)

// TaskName identifies which handler a worker should run for a task.
type TaskName string

const (
	// TaskExecuteStep runs one workflow step via the orchestrator.
	TaskExecuteStep TaskName = "workflow.execute_step"
)

// Backoff describes the delay between failed attempts of a task.
// The delay before retry n (1-based) is Initial * Multiplier^(n-1),
// capped at Max when Max > 0.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the backoff before the retry that follows failed attempt
// number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 || attempt <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Name TaskName

	// For step tasks
	InstanceID string
	StepID     string

	Payload map[string]any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time

	// Attempts counts failed executions so far.
	Attempts int

	// MaxAttempts includes the first attempt; <= 0 means the worker default.
	MaxAttempts int

	Backoff Backoff
}

// Queue is an at-least-once asynchronous task queue.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next due task, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
