package caseflow

import (
	"time"

	"github.com/petrijr/caseflow/internal/taskqueue"
)

// RetryPolicy is the attempt limit and backoff applied to step tasks.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     taskqueue.Backoff
}

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for Options.Retry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder with the given maxAttempts.
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{
		policy: RetryPolicy{
			MaxAttempts: maxAttempts,
		},
	}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(5).WithExponentialBackoff(2*time.Second, 2.0, 5*time.Minute)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p := r.policy
	p.Backoff = taskqueue.Backoff{Initial: initial, Multiplier: multiplier, Max: max}
	return RetryBuilder{policy: p}
}

// WithConstantBackoff configures a constant delay between retries.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.Backoff = taskqueue.Backoff{Initial: delay, Multiplier: 1.0}
	return RetryBuilder{policy: p}
}

// Immediate disables any delay between retries.
// Retries still respect MaxAttempts.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.Backoff = taskqueue.Backoff{}
	return RetryBuilder{policy: p}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

// Ptr returns a pointer to r, for Options.Retry.
func (r RetryBuilder) Ptr() *RetryBuilder {
	return &r
}
