package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/petrijr/caseflow/pkg/api"
)

type triggerRequest struct {
	WorkflowType string         `json:"workflowType"`
	EntityID     string         `json:"entityId"`
	Data         map[string]any `json:"data"`
	ActorID      string         `json:"actorId"`
}

type triggerResponse struct {
	WorkflowInstanceID string `json:"workflowInstanceId"`
	CurrentStep        string `json:"currentStep"`
	Status             string `json:"status"`
}

type stepRecordView struct {
	StepID      string     `json:"stepId"`
	StepIndex   int        `json:"stepIndex"`
	Attempt     int        `json:"attempt"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type instanceView struct {
	ID               string         `json:"id"`
	WorkflowType     string         `json:"workflowType"`
	EntityID         string         `json:"entityId"`
	Status           string         `json:"status"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	CurrentStep      string         `json:"currentStep"`
	Progress         int            `json:"progress"`
	Payload          map[string]any `json:"payload,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CreatedBy        string         `json:"createdBy,omitempty"`

	Steps []stepRecordView `json:"steps,omitempty"`
}

func (s *Server) currentStep(inst *api.WorkflowInstance) string {
	def, err := s.Workflows.Definition(inst.WorkflowType)
	if err != nil || inst.CurrentStepIndex >= len(def.Steps) {
		return ""
	}
	return string(def.Steps[inst.CurrentStepIndex].ID)
}

func (s *Server) view(inst *api.WorkflowInstance) instanceView {
	return instanceView{
		ID:               inst.ID,
		WorkflowType:     string(inst.WorkflowType),
		EntityID:         inst.EntityID,
		Status:           string(inst.Status),
		CurrentStepIndex: inst.CurrentStepIndex,
		CurrentStep:      s.currentStep(inst),
		Progress:         s.Workflows.Progress(inst),
		Payload:          inst.Payload,
		CreatedAt:        inst.CreatedAt,
		UpdatedAt:        inst.UpdatedAt,
		CompletedAt:      inst.CompletedAt,
		CreatedBy:        inst.CreatedBy,
	}
}

// TriggerWorkflow starts a workflow instance
// (POST /workflows/trigger)
func (s *Server) TriggerWorkflow(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	inst, err := s.Workflows.TriggerWorkflow(c.Request().Context(), api.WorkflowType(req.WorkflowType), req.EntityID, req.Data, req.ActorID)
	switch {
	case errors.Is(err, api.ErrUnknownWorkflow), errors.Is(err, api.ErrInvalidEntity):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, triggerResponse{
		WorkflowInstanceID: inst.ID,
		CurrentStep:        s.currentStep(inst),
		Status:             string(inst.Status),
	})
}

// ListWorkflows lists instances filtered by workflowType, status and entityId
// (GET /workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	insts, err := s.Workflows.ListInstances(c.Request().Context(), api.InstanceListOptions{
		WorkflowType: api.WorkflowType(c.QueryParam("workflowType")),
		Status:       api.Status(c.QueryParam("status")),
		EntityID:     c.QueryParam("entityId"),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]instanceView, 0, len(insts))
	for _, inst := range insts {
		out = append(out, s.view(inst))
	}
	return c.JSON(http.StatusOK, out)
}

// GetWorkflow returns an instance with its progress and step records
// (GET /workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	inst, err := s.Workflows.GetInstance(ctx, c.Param("id"))
	if errors.Is(err, api.ErrInstanceNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	records, err := s.Workflows.StepRecords(ctx, inst.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	v := s.view(inst)
	v.Steps = make([]stepRecordView, 0, len(records))
	for _, r := range records {
		v.Steps = append(v.Steps, stepRecordView{
			StepID:      string(r.StepID),
			StepIndex:   r.StepIndex,
			Attempt:     r.Attempt,
			Status:      string(r.Status),
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Error:       r.Error,
		})
	}
	return c.JSON(http.StatusOK, v)
}
