// Package worker drains a task queue and runs the handler registered for
// each task name.
//
// Delivery is at-least-once. A handler that returns an error has its task
// re-enqueued with exponential backoff until the task's MaxAttempts is
// reached; the task is then handed to the configured FailureFunc and
// dropped from the queue.
//
// # Enqueueing
//
// Worker.Enqueue is the producer side:
//
//	w.Enqueue(ctx, taskqueue.TaskExecuteStep, payload, worker.EnqueueOptions{
//		InstanceID:  inst.ID,
//		StepID:      "account_setup",
//		Delay:       5 * time.Second,
//		MaxAttempts: 5,
//	})
//
// # Running
//
// Run starts a fixed number of goroutines that call ProcessOne until the
// context is cancelled. Multiple workers, in one process or many, can share
// a durable queue (SQLite, PostgreSQL, Redis).
package worker
