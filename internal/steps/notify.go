package steps

import (
	"context"
	"log/slog"

	"github.com/petrijr/caseflow/pkg/api"
)

// Payload keys the notification steps read their recipient from.
const (
	PayloadEmail         = "email"
	PayloadCustomerEmail = "customer_email"
	PayloadReviewerEmail = "reviewer_email"
	PayloadAdminEmail    = "admin_email"
)

// Notification template keys.
const (
	TemplateCaseReceived          = "case_received"
	TemplateReviewDeadline        = "review_deadline"
	TemplateReportReady           = "report_ready"
	TemplateOnboardingWelcome     = "onboarding_welcome"
	TemplateOnboardingOrientation = "onboarding_orientation"
	TemplateOnboardingActivated   = "onboarding_activated"
	TemplateReviewReminder        = "peer_review_reminder"
	TemplateExceptionsDetected    = "exceptions_detected"
)

// NotifyStep sends a templated notification to the recipient found under
// RecipientKey in the payload, or Fallback when the payload has none.
type NotifyStep struct {
	Notifier     api.Notifier
	Template     string
	RecipientKey string
	Fallback     string
	Logger       *slog.Logger
}

// Handle never returns an error: delivery is fire-and-forget.
func (s *NotifyStep) Handle(ctx context.Context, in api.StepInput) error {
	recipient := in.Payload.String(s.RecipientKey)
	if recipient == "" {
		recipient = s.Fallback
	}
	send(ctx, s.Notifier, s.Logger, in, recipient, s.Template, map[string]any{
		"entity_id":     in.EntityID,
		"workflow_type": string(in.WorkflowType),
		"payload":       map[string]any(in.Payload.Clone()),
	})
	return nil
}

func send(ctx context.Context, n api.Notifier, logger *slog.Logger, in api.StepInput, recipient, template string, data map[string]any) {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil || recipient == "" {
		logger.Warn("notification skipped",
			"workflow", in.WorkflowType,
			"instance_id", in.InstanceID,
			"step", in.StepID,
			"template", template,
		)
		return
	}
	if err := n.Send(ctx, recipient, template, data); err != nil {
		logger.Error("notification failed",
			"workflow", in.WorkflowType,
			"instance_id", in.InstanceID,
			"step", in.StepID,
			"template", template,
			"error", err,
		)
	}
}
