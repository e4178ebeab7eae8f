package steps

import (
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/caseflow/internal/dispatch"
	"github.com/petrijr/caseflow/internal/engine"
	"github.com/petrijr/caseflow/internal/sla"
	"github.com/petrijr/caseflow/pkg/api"
)

// ReviewDeadline is the time a professional has to deliver an opinion.
const ReviewDeadline = 72 * time.Hour

// Case fields written by the case_processing and peer_review steps.
const (
	FieldStatus                = "status"
	FieldIntakeCompletedAt     = "intake_completed_at"
	FieldReviewDueAt           = "review_due_at"
	FieldReportDeliveredAt     = "report_delivered_at"
	FieldPeerReviewCompletedAt = "peer_review_completed_at"
)

const (
	defaultAdminRecipient    = "operations@caseflow.local"
	defaultReviewerRecipient = "quality_lead"
)

// Deps are the collaborators the built-in handlers need.
type Deps struct {
	Cases     api.CaseStore
	Directory api.ReviewerDirectory
	Reviews   api.PeerReviewStore
	Notifier  api.Notifier
	Recorder  ExceptionRecorder
	SLA       *sla.Registry

	// Actions performs the external steps. Defaults to LogAction.
	Actions ExternalAction

	// AdminRecipient receives exception summaries when the payload does
	// not name one.
	AdminRecipient string

	Logger *slog.Logger
	Now    func() time.Time
	Intn   func(n int) int
}

// RegisterDefaults registers a handler for every step of
// engine.DefaultDefinitions.
func RegisterDefaults(r *dispatch.Registry, deps Deps) error {
	switch {
	case deps.Cases == nil:
		return errors.New("steps: case store is required")
	case deps.Directory == nil || deps.Reviews == nil:
		return errors.New("steps: reviewer directory and peer review store are required")
	case deps.Recorder == nil:
		return errors.New("steps: exception recorder is required")
	}
	if deps.Actions == nil {
		deps.Actions = LogAction{Logger: deps.Logger}
	}
	if deps.SLA == nil {
		deps.SLA = sla.NewDefaultRegistry()
	}
	if deps.AdminRecipient == "" {
		deps.AdminRecipient = defaultAdminRecipient
	}

	notify := func(template, key, fallback string) *NotifyStep {
		return &NotifyStep{Notifier: deps.Notifier, Template: template, RecipientKey: key, Fallback: fallback, Logger: deps.Logger}
	}
	action := func(name string) *ActionStep {
		return &ActionStep{Action: deps.Actions, Name: name}
	}
	fields := func(fn func(now time.Time, in api.StepInput) map[string]any) *CaseFieldStep {
		return &CaseFieldStep{Cases: deps.Cases, Fields: fn, Now: deps.Now}
	}

	handlers := map[dispatch.HandlerKey]dispatch.StepHandler{
		// case_processing
		{WorkflowType: api.WorkflowCaseProcessing, StepID: engine.StepCaseIntake}: Sequence{
			fields(func(now time.Time, in api.StepInput) map[string]any {
				return map[string]any{FieldIntakeCompletedAt: now}
			}),
			notify(TemplateCaseReceived, PayloadCustomerEmail, ""),
		},
		{WorkflowType: api.WorkflowCaseProcessing, StepID: engine.StepAIAnalysis}: action("ai_analysis"),
		{WorkflowType: api.WorkflowCaseProcessing, StepID: engine.StepProfessionalAssignment}: Sequence{
			action("match_professional"),
			fields(func(now time.Time, in api.StepInput) map[string]any {
				if pro := in.Payload.String("professional_id"); pro != "" {
					return map[string]any{"assigned_professional_id": pro, FieldStatus: api.CaseInReview}
				}
				return map[string]any{FieldStatus: api.CaseAwaitingAssignment}
			}),
		},
		{WorkflowType: api.WorkflowCaseProcessing, StepID: engine.StepReviewDeadline}: Sequence{
			fields(func(now time.Time, in api.StepInput) map[string]any {
				return map[string]any{FieldReviewDueAt: now.Add(ReviewDeadline)}
			}),
			notify(TemplateReviewDeadline, "professional_email", ""),
		},
		{WorkflowType: api.WorkflowCaseProcessing, StepID: engine.StepReportDelivery}: Sequence{
			fields(func(now time.Time, in api.StepInput) map[string]any {
				return map[string]any{FieldStatus: api.CaseReportReady, FieldReportDeliveredAt: now}
			}),
			notify(TemplateReportReady, PayloadCustomerEmail, ""),
		},

		// professional_onboarding
		{WorkflowType: api.WorkflowProfessionalOnboarding, StepID: engine.StepWelcomeEmail}:           notify(TemplateOnboardingWelcome, PayloadEmail, ""),
		{WorkflowType: api.WorkflowProfessionalOnboarding, StepID: engine.StepAccountSetup}:           action("account_setup"),
		{WorkflowType: api.WorkflowProfessionalOnboarding, StepID: engine.StepCredentialVerification}: action("credential_verification"),
		{WorkflowType: api.WorkflowProfessionalOnboarding, StepID: engine.StepOrientation}:            notify(TemplateOnboardingOrientation, PayloadEmail, ""),
		{WorkflowType: api.WorkflowProfessionalOnboarding, StepID: engine.StepActivation}: Sequence{
			action("activate_professional"),
			notify(TemplateOnboardingActivated, PayloadEmail, ""),
		},

		// peer_review
		{WorkflowType: api.WorkflowPeerReview, StepID: engine.StepAssignReviewer}: &ReviewerAssigner{
			Cases:     deps.Cases,
			Directory: deps.Directory,
			Reviews:   deps.Reviews,
			Logger:    deps.Logger,
			Intn:      deps.Intn,
			Now:       deps.Now,
		},
		{WorkflowType: api.WorkflowPeerReview, StepID: engine.StepReviewReminder}: notify(TemplateReviewReminder, PayloadReviewerEmail, defaultReviewerRecipient),
		{WorkflowType: api.WorkflowPeerReview, StepID: engine.StepCollectReview}:  action("collect_review"),
		{WorkflowType: api.WorkflowPeerReview, StepID: engine.StepFinalizeReview}: fields(func(now time.Time, in api.StepInput) map[string]any {
			return map[string]any{FieldPeerReviewCompletedAt: now}
		}),

		// exception_handling
		{WorkflowType: api.WorkflowExceptionHandling, StepID: engine.StepDetectExceptions}: &ExceptionDetector{
			Cases:    deps.Cases,
			SLA:      deps.SLA,
			Recorder: deps.Recorder,
			Logger:   deps.Logger,
			Now:      deps.Now,
		},
		{WorkflowType: api.WorkflowExceptionHandling, StepID: engine.StepNotifyAdmins}: &AdminNotifier{
			Recorder:  deps.Recorder,
			Notifier:  deps.Notifier,
			Recipient: deps.AdminRecipient,
			Logger:    deps.Logger,
		},
	}

	for key, h := range handlers {
		if err := r.Register(key.WorkflowType, key.StepID, h); err != nil {
			return err
		}
	}
	return r.Validate(engine.DefaultDefinitions()...)
}
