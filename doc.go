// Package caseflow is the workflow orchestration and SLA-compliance engine
// of a medical second-opinion marketplace.
//
// # Core Concepts
//
//  1. Workflow definitions: fixed, ordered steps per workflow type
//     (case_processing, professional_onboarding, peer_review,
//     exception_handling), each with a nominal timeout and an escalation
//     chain.
//  2. Orchestrator: creates instances and advances them one step per
//     queued task.
//  3. Worker: drains a task queue with at-least-once delivery, retrying
//     failed steps with exponential backoff.
//  4. SLA monitor: measures how long cases sit in each status and records
//     breaches as exceptions.
//  5. Runtime and LocalRunner: everything above, wired together.
//
// # Orchestrator
//
// TriggerWorkflow validates the workflow type and entity, stores a new
// active instance at step 0 and enqueues that step. Each step task:
//   - records a running attempt
//   - dispatches to the handler registered for (workflow type, step id)
//   - on success advances the instance with a compare-and-set on its
//     current step index and enqueues the next step after a short delay
//   - on failure records the error and returns it so the queue retries
//
// Duplicate and stale deliveries are absorbed. An instance whose step
// exhausts its retries stays active at that step unless FailOnExhaustion
// is set.
//
// # Storage
//
// Instances, step records and exceptions can be kept in memory, SQLite or
// PostgreSQL; exceptions can also go to MongoDB. Task queues exist for
// memory, SQLite, PostgreSQL and Redis.
//
// # SLA Monitor
//
// For every case status with an SLA the monitor counts cases in the
// warning window and past the target. Compliance is 100 without breaches
// and otherwise max(0, 100 - 10*breached). The overall figure is the mean
// over statuses that could be computed.
//
// # LocalRunner
//
// LocalRunner wires an in-memory Runtime with an in-memory case store and
// a capturing notifier. It is not crash-durable, but it is the quickest
// way to run and debug the built-in workflows.
//
// For a runnable example, see examples/localrunner and examples/sqlite_bundle.
package caseflow
