// Package api defines the shared types of the caseflow engine: workflow
// definitions and instances, step records, SLA definitions and compliance
// reports, case exceptions, and the collaborator interfaces the engine
// needs from the business side (CaseStore, ReviewerDirectory,
// PeerReviewStore, Notifier).
//
// It also provides the Observer hooks with three ready-made
// implementations: LoggingObserver (log/slog), BasicMetrics (in-process
// counters) and CompositeObserver (fan-out).
//
// Most applications start from the caseflow package, which wires these
// types into a Runtime.
package api
