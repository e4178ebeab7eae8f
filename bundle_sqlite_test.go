package caseflow

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/caseflow/pkg/api"
)

// TestSQLiteBundle_DurableAcrossRestart demonstrates that a workflow whose
// first step was enqueued before a simulated restart is picked up by a new
// process sharing the same database file.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dsn := "file:" + filepath.Join(t.TempDir(), "caseflow_bundle.db") + "?_pragma=busy_timeout(5000)"
	opts := Options{InterStepDelay: -1, Retry: Retry(3).Immediate().Ptr()}

	// --- Phase 1: trigger, no processing yet.

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	rt1, _, err := NewSQLiteBundle(db1, opts)
	require.NoError(t, err)

	inst, err := rt1.TriggerWorkflow(ctx, WorkflowProfessionalOnboarding, "pro-1", Payload{"email": "pro@example.com"}, "admin")
	require.NoError(t, err)
	require.Equal(t, 1, rt1.Queue.Len())
	require.NoError(t, db1.Close())

	// --- Phase 2: new process drains the queue.

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()

	rt2, _, err := NewSQLiteBundle(db2, opts)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		processed, err := rt2.Worker.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	got, err := rt2.Orchestrator.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)

	records, err := rt2.Orchestrator.StepRecords(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for _, r := range records {
		require.Equal(t, api.StepCompleted, r.Status)
	}
}

func TestSQLiteBundle_ComplianceAndBreachScan(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "sla.db"))
	require.NoError(t, err)
	defer db.Close()

	rt, cases, err := NewSQLiteBundle(db, Options{})
	require.NoError(t, err)

	old := time.Now().Add(-3 * time.Hour)
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, cases.PutCase(ctx, api.CaseRef{ID: id, Status: api.CaseSubmitted, StatusChangedAt: old}))
	}

	report, err := rt.Monitor.ScanBreaches(ctx)
	require.NoError(t, err)

	var submitted api.StatusCompliance
	for _, s := range report.Statuses {
		if s.Status == api.CaseSubmitted {
			submitted = s
		}
	}
	require.Equal(t, 2, submitted.BreachedCount)
	require.Equal(t, 80.0, submitted.Compliance)

	open, err := rt.Recorder.List(ctx, api.ExceptionFilter{Type: api.ExceptionSLABreach})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.ElementsMatch(t, []string{"c1", "c2"}, open[0].AffectedEntityIDs)
}
