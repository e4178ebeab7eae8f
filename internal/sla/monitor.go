package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// BreachPenalty is the compliance deducted per breached case.
const BreachPenalty = 10

// ExceptionRecorder is the part of *exceptions.Recorder the monitor uses.
type ExceptionRecorder interface {
	Record(ctx context.Context, typ api.ExceptionType, severity api.Severity, description string, affectedIDs []string) (*api.CaseException, error)
}

// ReportObserver receives every computed report, e.g. to export gauges.
type ReportObserver interface {
	ObserveCompliance(report api.ComplianceReport)
}

// Config describes how to construct a Monitor.
type Config struct {
	Registry *Registry
	Cases    api.CaseStore

	// Recorder receives one sla_breach exception per breaching status
	// during ScanBreaches. Nil disables recording.
	Recorder ExceptionRecorder

	// Observer is notified of every report produced by ScanBreaches.
	Observer ReportObserver

	Logger *slog.Logger
	Now    func() time.Time
}

// Monitor computes SLA compliance over the Case Store. It only reads cases
// and never touches workflow instances.
type Monitor struct {
	registry *Registry
	cases    api.CaseStore
	recorder ExceptionRecorder
	observer ReportObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor returns a Monitor for cfg.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Registry == nil {
		return nil, errors.New("sla monitor: registry is required")
	}
	if cfg.Cases == nil {
		return nil, errors.New("sla monitor: case store is required")
	}
	m := &Monitor{
		registry: cfg.Registry,
		cases:    cfg.Cases,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Compliance returns 100 when nothing is breached and otherwise
// max(0, 100 - breached*BreachPenalty).
func Compliance(breached int) float64 {
	if breached <= 0 {
		return 100
	}
	return math.Max(0, float64(100-breached*BreachPenalty))
}

// Compute counts warning and breached cases for every SLA status. A Case
// Store failure for one status marks that row Unknown and the remaining
// statuses are still computed.
func (m *Monitor) Compute(ctx context.Context) api.ComplianceReport {
	now := m.now()
	report := api.ComplianceReport{GeneratedAt: now}

	var (
		sum      float64
		computed int
	)
	for _, def := range m.registry.Definitions() {
		row := m.computeStatus(ctx, def, now)
		if !row.Unknown {
			sum += row.Compliance
			computed++
		}
		report.Statuses = append(report.Statuses, row)
	}
	if computed > 0 {
		report.Overall = sum / float64(computed)
	}
	return report
}

func (m *Monitor) computeStatus(ctx context.Context, def api.SLADefinition, now time.Time) api.StatusCompliance {
	row := api.StatusCompliance{
		Status:  def.Status,
		Target:  def.Target,
		Warning: def.Warning,
	}
	breachCutoff := now.Add(-def.Target)

	breached, err := m.cases.CountCasesByStatusFilter(ctx, api.CaseFilter{
		Status:              def.Status,
		StatusChangedBefore: breachCutoff,
	})
	if err == nil {
		row.BreachedCount = breached
		row.WarningCount, err = m.cases.CountCasesByStatusFilter(ctx, api.CaseFilter{
			Status:              def.Status,
			StatusChangedBefore: now.Add(-def.Warning),
			StatusChangedAfter:  breachCutoff,
		})
	}
	if err != nil {
		m.logger.Error("sla compliance unavailable", "status", def.Status, "error", err)
		return api.StatusCompliance{
			Status:  def.Status,
			Target:  def.Target,
			Warning: def.Warning,
			Unknown: true,
			Error:   err.Error(),
		}
	}

	row.Compliance = Compliance(row.BreachedCount)
	return row
}

// ScanBreaches computes a report, hands it to the observer and records one
// sla_breach exception per breaching status. Severity is critical when the
// status is at zero compliance and high otherwise. Recording failures are
// joined into the returned error; the report is always returned.
func (m *Monitor) ScanBreaches(ctx context.Context) (api.ComplianceReport, error) {
	report := m.Compute(ctx)
	if m.observer != nil {
		m.observer.ObserveCompliance(report)
	}

	breaching := report.Breaching()
	m.logger.Info("sla breach scan finished",
		"overall_compliance", report.Overall,
		"breaching_statuses", len(breaching),
	)
	if m.recorder == nil {
		return report, nil
	}

	var errs []error
	for _, row := range breaching {
		ids, err := m.breachedCaseIDs(ctx, row, report.GeneratedAt)
		if err != nil {
			m.logger.Warn("could not list breached cases", "status", row.Status, "error", err)
		}

		severity := api.SeverityHigh
		if row.Compliance == 0 {
			severity = api.SeverityCritical
		}
		desc := fmt.Sprintf("%d case(s) in status %q exceeded the %s SLA target", row.BreachedCount, row.Status, row.Target)
		if _, err := m.recorder.Record(ctx, api.ExceptionSLABreach, severity, desc, ids); err != nil {
			errs = append(errs, fmt.Errorf("record breach for %s: %w", row.Status, err))
		}
	}
	return report, errors.Join(errs...)
}

func (m *Monitor) breachedCaseIDs(ctx context.Context, row api.StatusCompliance, now time.Time) ([]string, error) {
	cases, err := m.cases.FindCasesByStatus(ctx, row.Status, now.Add(-row.Target))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
