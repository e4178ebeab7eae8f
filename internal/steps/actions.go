package steps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/caseflow/internal/dispatch"
	"github.com/petrijr/caseflow/pkg/api"
)

// ExternalAction performs a side effect owned by another service, such as
// requesting an AI analysis or provisioning an account.
type ExternalAction interface {
	Perform(ctx context.Context, action string, in api.StepInput) error
}

// ExternalActionFunc adapts a function to ExternalAction.
type ExternalActionFunc func(ctx context.Context, action string, in api.StepInput) error

func (f ExternalActionFunc) Perform(ctx context.Context, action string, in api.StepInput) error {
	return f(ctx, action, in)
}

// LogAction is an ExternalAction that only logs. It is the default when no
// downstream integration is configured.
type LogAction struct {
	Logger *slog.Logger
}

func (a LogAction) Perform(ctx context.Context, action string, in api.StepInput) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("external action",
		"action", action,
		"workflow", in.WorkflowType,
		"instance_id", in.InstanceID,
		"entity_id", in.EntityID,
	)
	return nil
}

// ActionStep delegates a step to an ExternalAction. Errors propagate so
// the queue retries the step.
type ActionStep struct {
	Action ExternalAction
	Name   string
}

func (s *ActionStep) Handle(ctx context.Context, in api.StepInput) error {
	if err := s.Action.Perform(ctx, s.Name, in); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	return nil
}

// CaseFieldStep writes fields onto the case the instance is driving.
type CaseFieldStep struct {
	Cases  api.CaseStore
	Fields func(now time.Time, in api.StepInput) map[string]any
	Now    func() time.Time
}

func (s *CaseFieldStep) Handle(ctx context.Context, in api.StepInput) error {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	fields := s.Fields(now, in)
	if len(fields) == 0 {
		return nil
	}
	if err := s.Cases.UpdateCaseFields(ctx, in.EntityID, fields); err != nil {
		return fmt.Errorf("update case %s: %w", in.EntityID, err)
	}
	return nil
}

// Sequence runs handlers in order and stops at the first error.
type Sequence []dispatch.StepHandler

func (s Sequence) Handle(ctx context.Context, in api.StepInput) error {
	for _, h := range s {
		if err := h.Handle(ctx, in); err != nil {
			return err
		}
	}
	return nil
}
