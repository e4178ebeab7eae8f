package api

import "time"

// ExceptionType classifies a recorded anomaly.
type ExceptionType string

const (
	ExceptionSLABreach     ExceptionType = "sla_breach"
	ExceptionOrphanedCase  ExceptionType = "orphaned_case"
	ExceptionStuckWorkflow ExceptionType = "stuck_workflow"
)

// Severity of a case exception.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ExceptionStatus is open until a human resolves it.
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionResolved ExceptionStatus = "resolved"
)

// CaseException is a recorded anomaly requiring human follow-up.
type CaseException struct {
	ID                string
	Type              ExceptionType
	Severity          Severity
	Description       string
	AffectedEntityIDs []string
	Status            ExceptionStatus
	DetectedAt        time.Time
	ResolvedAt        *time.Time
	ResolvedBy        string
}

// ExceptionFilter selects exceptions. Zero values mean "no filter".
type ExceptionFilter struct {
	Type     ExceptionType
	Status   ExceptionStatus
	Severity Severity
}
