package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/petrijr/caseflow/pkg/api"
)

type statusComplianceView struct {
	Status        string  `json:"status"`
	TargetHours   float64 `json:"targetHours"`
	WarningHours  float64 `json:"warningHours"`
	WarningCount  int     `json:"warningCount"`
	BreachedCount int     `json:"breachedCount"`
	Compliance    float64 `json:"compliance"`
	Unknown       bool    `json:"unknown,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type complianceView struct {
	GeneratedAt       time.Time              `json:"generatedAt"`
	Statuses          []statusComplianceView `json:"statuses"`
	OverallCompliance float64                `json:"overallCompliance"`
}

// SLAMonitor returns the per-status compliance table
// (GET /sla/monitor)
func (s *Server) SLAMonitor(c echo.Context) error {
	report := s.Compliance.Compute(c.Request().Context())

	out := complianceView{
		GeneratedAt:       report.GeneratedAt,
		Statuses:          make([]statusComplianceView, 0, len(report.Statuses)),
		OverallCompliance: report.Overall,
	}
	for _, row := range report.Statuses {
		out.Statuses = append(out.Statuses, statusComplianceView{
			Status:        row.Status,
			TargetHours:   row.Target.Hours(),
			WarningHours:  row.Warning.Hours(),
			WarningCount:  row.WarningCount,
			BreachedCount: row.BreachedCount,
			Compliance:    row.Compliance,
			Unknown:       row.Unknown,
			Error:         row.Error,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type exceptionView struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Severity          string     `json:"severity"`
	Description       string     `json:"description"`
	AffectedEntityIDs []string   `json:"affectedEntityIds"`
	Status            string     `json:"status"`
	DetectedAt        time.Time  `json:"detectedAt"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy        string     `json:"resolvedBy,omitempty"`
}

func toExceptionView(ex *api.CaseException) exceptionView {
	ids := ex.AffectedEntityIDs
	if ids == nil {
		ids = []string{}
	}
	return exceptionView{
		ID:                ex.ID,
		Type:              string(ex.Type),
		Severity:          string(ex.Severity),
		Description:       ex.Description,
		AffectedEntityIDs: ids,
		Status:            string(ex.Status),
		DetectedAt:        ex.DetectedAt,
		ResolvedAt:        ex.ResolvedAt,
		ResolvedBy:        ex.ResolvedBy,
	}
}

// ListExceptions lists exceptions filtered by status, type and severity
// (GET /exceptions)
func (s *Server) ListExceptions(c echo.Context) error {
	list, err := s.Exceptions.List(c.Request().Context(), api.ExceptionFilter{
		Status:   api.ExceptionStatus(c.QueryParam("status")),
		Type:     api.ExceptionType(c.QueryParam("type")),
		Severity: api.Severity(c.QueryParam("severity")),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]exceptionView, 0, len(list))
	for _, ex := range list {
		out = append(out, toExceptionView(ex))
	}
	return c.JSON(http.StatusOK, out)
}

// GetException returns one exception
// (GET /exceptions/:id)
func (s *Server) GetException(c echo.Context) error {
	ex, err := s.Exceptions.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, api.ErrExceptionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "exception not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toExceptionView(ex))
}

type resolveRequest struct {
	ActorID string `json:"actorId"`
}

// ResolveException marks an exception resolved
// (POST /exceptions/:id/resolve)
func (s *Server) ResolveException(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.ActorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "actorId is required")
	}

	ex, err := s.Exceptions.Resolve(c.Request().Context(), c.Param("id"), req.ActorID)
	switch {
	case errors.Is(err, api.ErrExceptionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "exception not found")
	case errors.Is(err, api.ErrExceptionResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toExceptionView(ex))
}
