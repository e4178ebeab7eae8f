package api

import "time"

// Case statuses the built-in workflows and SLA table refer to.
const (
	CaseSubmitted          = "submitted"
	CaseAwaitingAssignment = "awaiting_assignment"
	CaseInReview           = "in_review"
	CasePendingInformation = "pending_information"
	CasePeerReview         = "peer_review"
	CaseReportReady        = "report_ready"
)

// SLADefinition is the target and warning duration a case is expected to
// spend in a given status. Warning must be strictly less than Target.
type SLADefinition struct {
	Status  string
	Target  time.Duration
	Warning time.Duration
}

// StatusCompliance is one row of a compliance report.
type StatusCompliance struct {
	Status        string
	Target        time.Duration
	Warning       time.Duration
	WarningCount  int
	BreachedCount int
	Compliance    float64

	// Unknown is set when the counts for this status could not be computed.
	// Unknown rows are excluded from the overall compliance.
	Unknown bool
	Error   string
}

// ComplianceReport is the result of one SLA monitor cycle.
type ComplianceReport struct {
	GeneratedAt time.Time
	Statuses    []StatusCompliance

	// Overall is the arithmetic mean of the compliance of every status that
	// could be computed. It is 0 when no status could be computed.
	Overall float64
}

// Breaching returns the rows with at least one breached case.
func (r ComplianceReport) Breaching() []StatusCompliance {
	var out []StatusCompliance
	for _, s := range r.Statuses {
		if !s.Unknown && s.BreachedCount > 0 {
			out = append(out, s)
		}
	}
	return out
}
