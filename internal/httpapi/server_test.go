package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/caseflow/internal/dispatch"
	"github.com/petrijr/caseflow/internal/engine"
	"github.com/petrijr/caseflow/internal/exceptions"
	"github.com/petrijr/caseflow/internal/metrics"
	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/internal/sla"
	"github.com/petrijr/caseflow/internal/taskqueue"
	"github.com/petrijr/caseflow/pkg/api"
	"github.com/petrijr/caseflow/pkg/worker"
)

type apiFixture struct {
	e        *echo.Echo
	worker   *worker.Worker
	cases    *persistence.InMemoryCaseStore
	recorder *exceptions.Recorder
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := persistence.NewInMemory()
	registry := engine.NewDefaultRegistry()
	handlers := dispatch.NewRegistry()
	for _, def := range registry.Definitions() {
		for _, s := range def.Steps {
			handlers.MustRegister(def.Type, s.ID, dispatch.HandlerFunc(func(ctx context.Context, in api.StepInput) error { return nil }))
		}
	}

	rec := metrics.New("")
	w := worker.New(taskqueue.NewInMemoryQueue(16))
	orch, err := engine.NewOrchestrator(engine.Config{
		Registry:       registry,
		Dispatcher:     handlers,
		Instances:      store.Instances,
		Steps:          store.Steps,
		Enqueuer:       w,
		InterStepDelay: -1,
		Observer:       rec,
	})
	require.NoError(t, err)
	orch.Attach(w)

	cases := persistence.NewInMemoryCaseStore()
	exRec := exceptions.NewRecorder(store.Exceptions)
	monitor, err := sla.NewMonitor(sla.Config{
		Registry: sla.NewDefaultRegistry(),
		Cases:    cases,
		Recorder: exRec,
		Observer: rec,
	})
	require.NoError(t, err)

	s := &Server{Workflows: orch, Compliance: monitor, Exceptions: exRec, Metrics: rec.Handler()}
	return &apiFixture{e: s.Routes(), worker: w, cases: cases, recorder: exRec}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTriggerAndGetWorkflow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/workflows/trigger",
		`{"workflowType":"professional_onboarding","entityId":"P1","data":{"email":"p1@example.com"},"actorId":"admin"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[triggerResponse](t, rec)
	assert.NotEmpty(t, created.WorkflowInstanceID)
	assert.Equal(t, "welcome_email", created.CurrentStep)
	assert.Equal(t, "active", created.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	processed, err := f.worker.ProcessOne(ctx)
	require.True(t, processed)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/workflows/"+created.WorkflowInstanceID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[instanceView](t, rec)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Equal(t, "account_setup", got.CurrentStep)
	assert.Equal(t, 20, got.Progress)
	assert.Equal(t, "admin", got.CreatedBy)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "completed", got.Steps[0].Status)

	rec = f.do(t, http.MethodGet, "/workflows?workflowType=professional_onboarding&status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]instanceView](t, rec), 1)
}

func TestTriggerWorkflow_BadRequests(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"unknown type": `{"workflowType":"nope","entityId":"E1"}`,
		"no entity":    `{"workflowType":"peer_review"}`,
		"bad json":     `{"workflowType":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/workflows/trigger", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSLAMonitor(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		f.cases.PutCase(api.CaseRef{ID: id, Status: api.CaseInReview, StatusChangedAt: now.Add(-80 * time.Hour)})
	}

	rec := f.do(t, http.MethodGet, "/sla/monitor", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[complianceView](t, rec)
	var inReview *statusComplianceView
	for i := range got.Statuses {
		if got.Statuses[i].Status == api.CaseInReview {
			inReview = &got.Statuses[i]
		}
	}
	require.NotNil(t, inReview)
	assert.Equal(t, 3, inReview.BreachedCount)
	assert.Equal(t, 70.0, inReview.Compliance)
	assert.Equal(t, 72.0, inReview.TargetHours)
	assert.Less(t, got.OverallCompliance, 100.0)
}

func TestExceptionsEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orphan, err := f.recorder.Record(ctx, api.ExceptionOrphanedCase, api.SeverityHigh, "unassigned", []string{"c1"})
	require.NoError(t, err)
	_, err = f.recorder.Record(ctx, api.ExceptionSLABreach, api.SeverityCritical, "breach", nil)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/exceptions?status=open&type=orphaned_case", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]exceptionView](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, orphan.ID, list[0].ID)
	assert.Equal(t, []string{"c1"}, list[0].AffectedEntityIDs)

	rec = f.do(t, http.MethodGet, "/exceptions/"+orphan.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/exceptions/"+orphan.ID+"/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/exceptions/"+orphan.ID+"/resolve", `{"actorId":"ops-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[exceptionView](t, rec)
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "ops-1", resolved.ResolvedBy)

	rec = f.do(t, http.MethodPost, "/exceptions/"+orphan.ID+"/resolve", `{"actorId":"ops-2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/exceptions/unknown/resolve", `{"actorId":"ops-2"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/exceptions?status=open", "")
	assert.Len(t, decode[[]exceptionView](t, rec), 1)
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/workflows/trigger", `{"workflowType":"peer_review","entityId":"case-1"}`)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `caseflow_workflows_started_total{workflow="peer_review"} 1`)

	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
