// Package httpapi exposes the trigger, monitor and exception endpoints over
// HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/petrijr/caseflow/pkg/api"
)

// Workflows is the orchestrator surface the API needs.
// *engine.Orchestrator implements it.
type Workflows interface {
	api.Orchestrator
	Progress(inst *api.WorkflowInstance) int
}

// Compliance computes SLA reports. *sla.Monitor implements it.
type Compliance interface {
	Compute(ctx context.Context) api.ComplianceReport
}

// Exceptions lists and resolves case exceptions.
// *exceptions.Recorder implements it.
type Exceptions interface {
	List(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error)
	Get(ctx context.Context, id string) (*api.CaseException, error)
	Resolve(ctx context.Context, id, actor string) (*api.CaseException, error)
}

// Server holds the dependencies for the API handlers.
type Server struct {
	Workflows  Workflows
	Compliance Compliance
	Exceptions Exceptions

	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Routes builds the echo instance with every route registered.
func (s *Server) Routes() *echo.Echo {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/workflows/trigger", s.TriggerWorkflow)
	e.GET("/workflows", s.ListWorkflows)
	e.GET("/workflows/:id", s.GetWorkflow)

	e.GET("/sla/monitor", s.SLAMonitor)

	e.GET("/exceptions", s.ListExceptions)
	e.GET("/exceptions/:id", s.GetException)
	e.POST("/exceptions/:id/resolve", s.ResolveException)

	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics))
	}
	return e
}

// ListenAndServe runs the API on addr until ctx is cancelled, then shuts
// down within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	e := s.Routes()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
