package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/caseflow/pkg/api"
)

// The contract helpers run the same assertions against every backend.

func newTestInstance(id string, wfType api.WorkflowType, entity string, created time.Time) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:               id,
		WorkflowType:     wfType,
		EntityID:         entity,
		Status:           api.StatusActive,
		CurrentStepIndex: 0,
		Payload:          api.Payload{"entityId": entity, "n": 7},
		CreatedAt:        created,
		UpdatedAt:        created,
		CreatedBy:        "tester",
	}
}

func runInstanceStoreContract(t *testing.T, store InstanceStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	inst := newTestInstance("wf-1", api.WorkflowProfessionalOnboarding, "prof-1", now)
	require.NoError(t, store.SaveInstance(ctx, inst))

	got, err := store.GetInstance(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.WorkflowProfessionalOnboarding, got.WorkflowType)
	assert.Equal(t, "prof-1", got.EntityID)
	assert.Equal(t, api.StatusActive, got.Status)
	assert.Equal(t, 0, got.CurrentStepIndex)
	assert.Equal(t, "prof-1", got.Payload.String("entityId"))
	assert.Equal(t, 7, got.Payload["n"])
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, "tester", got.CreatedBy)

	_, err = store.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, api.ErrInstanceNotFound)

	// Advance with the right expected index, then replay the same advance.
	later := now.Add(time.Second)
	require.NoError(t, store.AdvanceInstance(ctx, "wf-1", 0, later))
	assert.ErrorIs(t, store.AdvanceInstance(ctx, "wf-1", 0, later), api.ErrStaleInstance)
	assert.ErrorIs(t, store.AdvanceInstance(ctx, "missing", 0, later), api.ErrInstanceNotFound)

	got, err = store.GetInstance(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.True(t, got.UpdatedAt.Equal(later))

	require.NoError(t, store.CompleteInstance(ctx, "wf-1", 1, later))
	got, err = store.GetInstance(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentStepIndex)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(later))

	// Terminal instances never move again.
	assert.ErrorIs(t, store.AdvanceInstance(ctx, "wf-1", 1, later), api.ErrStaleInstance)
	assert.ErrorIs(t, store.FailInstance(ctx, "wf-1", 1, later), api.ErrStaleInstance)

	require.NoError(t, store.SaveInstance(ctx, newTestInstance("wf-2", api.WorkflowCaseProcessing, "case-1", now.Add(time.Minute))))
	require.NoError(t, store.SaveInstance(ctx, newTestInstance("wf-3", api.WorkflowCaseProcessing, "case-2", now.Add(2*time.Minute))))
	require.NoError(t, store.FailInstance(ctx, "wf-3", 0, later))

	all, err := store.ListInstances(ctx, api.InstanceListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wf-1", all[0].ID)

	cases, err := store.ListInstances(ctx, api.InstanceListOptions{WorkflowType: api.WorkflowCaseProcessing})
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	active, err := store.ListInstances(ctx, api.InstanceListOptions{Status: api.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "wf-2", active[0].ID)

	byEntity, err := store.ListInstances(ctx, api.InstanceListOptions{EntityID: "case-2"})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, api.StatusFailed, byEntity[0].Status)
}

// runConcurrentAdvanceContract checks that of many racing advances with the
// same expected index exactly one wins.
func runConcurrentAdvanceContract(t *testing.T, store InstanceStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveInstance(ctx, newTestInstance("race-1", api.WorkflowPeerReview, "case-9", now)))

	var (
		wg    sync.WaitGroup
		wins  int32
		stale int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.AdvanceInstance(ctx, "race-1", 0, now)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, api.ErrStaleInstance):
				atomic.AddInt32(&stale, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), stale)

	got, err := store.GetInstance(ctx, "race-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)
}

func runStepStoreContract(t *testing.T, store StepStore) {
	t.Helper()
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	first := &api.StepRecord{
		ID:                 "rec-1",
		WorkflowInstanceID: "wf-1",
		StepID:             "welcome_email",
		StepIndex:          0,
		Attempt:            1,
		Status:             api.StepRunning,
		StartedAt:          start,
	}
	require.NoError(t, store.AppendStepRecord(ctx, first))

	done := start.Add(time.Second)
	first.Status = api.StepFailed
	first.CompletedAt = &done
	first.Error = "smtp down"
	require.NoError(t, store.UpdateStepRecord(ctx, first))

	second := &api.StepRecord{
		ID:                 "rec-2",
		WorkflowInstanceID: "wf-1",
		StepID:             "welcome_email",
		StepIndex:          0,
		Attempt:            2,
		Status:             api.StepCompleted,
		StartedAt:          start.Add(2 * time.Second),
		CompletedAt:        &done,
	}
	require.NoError(t, store.AppendStepRecord(ctx, second))
	require.NoError(t, store.AppendStepRecord(ctx, &api.StepRecord{
		ID:                 "other",
		WorkflowInstanceID: "wf-2",
		StepID:             "case_intake",
		Attempt:            1,
		Status:             api.StepRunning,
		StartedAt:          start,
	}))

	recs, err := store.ListStepRecords(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, api.StepFailed, recs[0].Status)
	assert.Equal(t, "smtp down", recs[0].Error)
	require.NotNil(t, recs[0].CompletedAt)
	assert.True(t, recs[0].CompletedAt.Equal(done))
	assert.Equal(t, 2, recs[1].Attempt)
	assert.Equal(t, api.StepCompleted, recs[1].Status)

	none, err := store.ListStepRecords(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Error(t, store.UpdateStepRecord(ctx, &api.StepRecord{ID: "nope", WorkflowInstanceID: "wf-1"}))
}

func runExceptionStoreContract(t *testing.T, store ExceptionStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	breach := &api.CaseException{
		ID:                "ex-1",
		Type:              api.ExceptionSLABreach,
		Severity:          api.SeverityHigh,
		Description:       "3 cases breached in_review",
		AffectedEntityIDs: []string{"case-1", "case-2", "case-3"},
		Status:            api.ExceptionOpen,
		DetectedAt:        now,
	}
	orphan := &api.CaseException{
		ID:                "ex-2",
		Type:              api.ExceptionOrphanedCase,
		Severity:          api.SeverityHigh,
		Description:       "1 orphaned case",
		AffectedEntityIDs: []string{"case-9"},
		Status:            api.ExceptionOpen,
		DetectedAt:        now.Add(time.Minute),
	}
	require.NoError(t, store.SaveException(ctx, breach))
	require.NoError(t, store.SaveException(ctx, orphan))

	got, err := store.GetException(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, breach.AffectedEntityIDs, got.AffectedEntityIDs)
	assert.Equal(t, api.ExceptionOpen, got.Status)
	assert.True(t, got.DetectedAt.Equal(now))

	_, err = store.GetException(ctx, "missing")
	assert.ErrorIs(t, err, api.ErrExceptionNotFound)

	open, err := store.ListExceptions(ctx, api.ExceptionFilter{Status: api.ExceptionOpen})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "ex-2", open[0].ID, "newest first")

	breaches, err := store.ListExceptions(ctx, api.ExceptionFilter{Type: api.ExceptionSLABreach})
	require.NoError(t, err)
	require.Len(t, breaches, 1)

	resolvedAt := now.Add(time.Hour)
	resolved, err := store.ResolveException(ctx, "ex-1", "admin-1", resolvedAt)
	require.NoError(t, err)
	assert.Equal(t, api.ExceptionResolved, resolved.Status)
	assert.Equal(t, "admin-1", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(resolvedAt))

	_, err = store.ResolveException(ctx, "ex-1", "admin-2", resolvedAt)
	assert.ErrorIs(t, err, api.ErrExceptionResolved)
	_, err = store.ResolveException(ctx, "missing", "admin-1", resolvedAt)
	assert.ErrorIs(t, err, api.ErrExceptionNotFound)

	stillOpen, err := store.ListExceptions(ctx, api.ExceptionFilter{Status: api.ExceptionOpen})
	require.NoError(t, err)
	require.Len(t, stillOpen, 1)
	assert.Equal(t, "ex-2", stillOpen[0].ID)
}
