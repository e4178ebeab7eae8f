package sla

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/caseflow/internal/exceptions"
	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/pkg/api"
)

var monitorNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// failingCases fails every query for one status.
type failingCases struct {
	api.CaseStore
	status string
}

func (f failingCases) CountCasesByStatusFilter(ctx context.Context, filter api.CaseFilter) (int, error) {
	if filter.Status == f.status {
		return 0, errors.New("case store unavailable")
	}
	return f.CaseStore.CountCasesByStatusFilter(ctx, filter)
}

type captureObserver struct {
	reports []api.ComplianceReport
}

func (c *captureObserver) ObserveCompliance(r api.ComplianceReport) { c.reports = append(c.reports, r) }

func putCase(s *persistence.InMemoryCaseStore, id, status string, age time.Duration) {
	s.PutCase(api.CaseRef{ID: id, Status: status, StatusChangedAt: monitorNow.Add(-age)})
}

func newMonitor(t *testing.T, cases api.CaseStore, defs []api.SLADefinition, rec ExceptionRecorder, obs ReportObserver) *Monitor {
	t.Helper()
	reg, err := NewRegistry(defs...)
	require.NoError(t, err)
	m, err := NewMonitor(Config{
		Registry: reg,
		Cases:    cases,
		Recorder: rec,
		Observer: obs,
		Now:      func() time.Time { return monitorNow },
	})
	require.NoError(t, err)
	return m
}

func TestMonitor_ThreeBreachesGiveSeventy(t *testing.T) {
	cases := persistence.NewInMemoryCaseStore()
	for i := 0; i < 3; i++ {
		putCase(cases, fmt.Sprintf("old-%d", i), api.CaseInReview, 80*time.Hour)
	}

	m := newMonitor(t, cases, []api.SLADefinition{
		{Status: api.CaseInReview, Target: 72 * time.Hour, Warning: 48 * time.Hour},
	}, nil, nil)

	report := m.Compute(context.Background())
	require.Len(t, report.Statuses, 1)
	row := report.Statuses[0]
	assert.Equal(t, 3, row.BreachedCount)
	assert.Equal(t, 0, row.WarningCount)
	assert.Equal(t, 70.0, row.Compliance)
	assert.Equal(t, 70.0, report.Overall)
	assert.True(t, report.GeneratedAt.Equal(monitorNow))
}

func TestMonitor_WarningWindow(t *testing.T) {
	cases := persistence.NewInMemoryCaseStore()
	putCase(cases, "fresh", api.CaseInReview, time.Hour)
	putCase(cases, "warn-1", api.CaseInReview, 50*time.Hour)
	putCase(cases, "warn-2", api.CaseInReview, 71*time.Hour)
	putCase(cases, "at-target", api.CaseInReview, 72*time.Hour)
	putCase(cases, "other-status", api.CaseSubmitted, 100*time.Hour)

	m := newMonitor(t, cases, []api.SLADefinition{
		{Status: api.CaseInReview, Target: 72 * time.Hour, Warning: 48 * time.Hour},
	}, nil, nil)

	row := m.Compute(context.Background()).Statuses[0]
	assert.Equal(t, 2, row.WarningCount)
	assert.Equal(t, 1, row.BreachedCount, "age equal to target is a breach")
	assert.Equal(t, 90.0, row.Compliance)
}

func TestMonitor_OverallIsMeanOfStatuses(t *testing.T) {
	cases := persistence.NewInMemoryCaseStore()
	putCase(cases, "s1", api.CaseSubmitted, 3*time.Hour)
	putCase(cases, "s2", api.CaseSubmitted, 3*time.Hour)

	m := newMonitor(t, cases, []api.SLADefinition{
		{Status: api.CaseSubmitted, Target: 2 * time.Hour, Warning: time.Hour},
		{Status: api.CaseReportReady, Target: 4 * time.Hour, Warning: 2 * time.Hour},
	}, nil, nil)

	report := m.Compute(context.Background())
	assert.Equal(t, 80.0, report.Statuses[0].Compliance)
	assert.Equal(t, 100.0, report.Statuses[1].Compliance)
	assert.Equal(t, 90.0, report.Overall)
}

func TestMonitor_StoreErrorForOneStatusDoesNotAbortScan(t *testing.T) {
	mem := persistence.NewInMemoryCaseStore()
	putCase(mem, "a", api.CaseSubmitted, 5*time.Hour)
	putCase(mem, "b", api.CaseInReview, 80*time.Hour)

	m := newMonitor(t, failingCases{CaseStore: mem, status: api.CaseSubmitted}, []api.SLADefinition{
		{Status: api.CaseSubmitted, Target: 2 * time.Hour, Warning: time.Hour},
		{Status: api.CaseInReview, Target: 72 * time.Hour, Warning: 48 * time.Hour},
	}, nil, nil)

	report := m.Compute(context.Background())
	require.Len(t, report.Statuses, 2)

	assert.True(t, report.Statuses[0].Unknown)
	assert.Contains(t, report.Statuses[0].Error, "unavailable")

	assert.False(t, report.Statuses[1].Unknown)
	assert.Equal(t, 1, report.Statuses[1].BreachedCount)
	assert.Equal(t, 90.0, report.Overall, "unknown rows excluded from the mean")
	assert.Len(t, report.Breaching(), 1)
}

func TestMonitor_ScanBreachesRecordsOnePerStatus(t *testing.T) {
	cases := persistence.NewInMemoryCaseStore()
	for i := 0; i < 10; i++ {
		putCase(cases, fmt.Sprintf("sub-%d", i), api.CaseSubmitted, 3*time.Hour)
	}
	putCase(cases, "rev-1", api.CaseInReview, 80*time.Hour)
	putCase(cases, "rev-ok", api.CaseInReview, time.Hour)

	store := persistence.NewInMemoryStore()
	rec := exceptions.NewRecorder(store)
	obs := &captureObserver{}
	m := newMonitor(t, cases, []api.SLADefinition{
		{Status: api.CaseSubmitted, Target: 2 * time.Hour, Warning: time.Hour},
		{Status: api.CaseInReview, Target: 72 * time.Hour, Warning: 48 * time.Hour},
		{Status: api.CaseReportReady, Target: 4 * time.Hour, Warning: 2 * time.Hour},
	}, rec, obs)

	ctx := context.Background()
	report, err := m.ScanBreaches(ctx)
	require.NoError(t, err)
	require.Len(t, obs.reports, 1)
	assert.Equal(t, report.Overall, obs.reports[0].Overall)

	got, err := rec.List(ctx, api.ExceptionFilter{Type: api.ExceptionSLABreach})
	require.NoError(t, err)
	require.Len(t, got, 2)

	bySeverity := map[api.Severity]*api.CaseException{}
	for _, ex := range got {
		bySeverity[ex.Severity] = ex
	}
	require.Contains(t, bySeverity, api.SeverityCritical)
	require.Contains(t, bySeverity, api.SeverityHigh)
	assert.Len(t, bySeverity[api.SeverityCritical].AffectedEntityIDs, 10)
	assert.Equal(t, []string{"rev-1"}, bySeverity[api.SeverityHigh].AffectedEntityIDs)

	// No dedup across cycles.
	_, err = m.ScanBreaches(ctx)
	require.NoError(t, err)
	got, _ = rec.List(ctx, api.ExceptionFilter{Type: api.ExceptionSLABreach})
	assert.Len(t, got, 4)
}

func TestNewMonitor_RequiresRegistryAndCases(t *testing.T) {
	_, err := NewMonitor(Config{Cases: persistence.NewInMemoryCaseStore()})
	assert.Error(t, err)
	_, err = NewMonitor(Config{Registry: NewDefaultRegistry()})
	assert.Error(t, err)
}
