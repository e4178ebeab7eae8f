package engine

import (
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// Step ids of the built-in workflows.
const (
	StepCaseIntake             api.StepID = "case_intake"
	StepAIAnalysis             api.StepID = "ai_analysis"
	StepProfessionalAssignment api.StepID = "professional_assignment"
	StepReviewDeadline         api.StepID = "review_deadline"
	StepReportDelivery         api.StepID = "report_delivery"

	StepWelcomeEmail           api.StepID = "welcome_email"
	StepAccountSetup           api.StepID = "account_setup"
	StepCredentialVerification api.StepID = "credential_verification"
	StepOrientation            api.StepID = "orientation"
	StepActivation             api.StepID = "activation"

	StepAssignReviewer   api.StepID = "assign_reviewer"
	StepReviewReminder   api.StepID = "review_reminder"
	StepCollectReview    api.StepID = "collect_review"
	StepFinalizeReview   api.StepID = "finalize_review"
	StepDetectExceptions api.StepID = "detect_exceptions"
	StepNotifyAdmins     api.StepID = "notify_admins"
)

// DefaultDefinitions returns the built-in workflow catalog.
func DefaultDefinitions() []api.WorkflowDefinition {
	return []api.WorkflowDefinition{
		{
			Type: api.WorkflowCaseProcessing,
			Steps: []api.StepSpec{
				{ID: StepCaseIntake, DisplayName: "Case intake", Timeout: 2 * time.Hour},
				{ID: StepAIAnalysis, DisplayName: "AI analysis", Timeout: 30 * time.Minute},
				{ID: StepProfessionalAssignment, DisplayName: "Professional assignment", Timeout: 24 * time.Hour},
				{ID: StepReviewDeadline, DisplayName: "Review deadline", Timeout: 72 * time.Hour},
				{ID: StepReportDelivery, DisplayName: "Report delivery", Timeout: 4 * time.Hour},
			},
			EscalationLevels: []string{"case_coordinator", "medical_director", "operations_lead"},
		},
		{
			Type: api.WorkflowProfessionalOnboarding,
			Steps: []api.StepSpec{
				{ID: StepWelcomeEmail, DisplayName: "Welcome email", Timeout: time.Hour},
				{ID: StepAccountSetup, DisplayName: "Account setup", Timeout: 48 * time.Hour},
				{ID: StepCredentialVerification, DisplayName: "Credential verification", Timeout: 120 * time.Hour},
				{ID: StepOrientation, DisplayName: "Orientation", Timeout: 72 * time.Hour},
				{ID: StepActivation, DisplayName: "Activation", Timeout: 24 * time.Hour},
			},
			EscalationLevels: []string{"onboarding_specialist", "network_manager"},
		},
		{
			Type: api.WorkflowPeerReview,
			Steps: []api.StepSpec{
				{ID: StepAssignReviewer, DisplayName: "Assign peer reviewer", Timeout: 4 * time.Hour},
				{ID: StepReviewReminder, DisplayName: "Reviewer reminder", Timeout: 24 * time.Hour},
				{ID: StepCollectReview, DisplayName: "Collect review", Timeout: 48 * time.Hour},
				{ID: StepFinalizeReview, DisplayName: "Finalize review", Timeout: 4 * time.Hour},
			},
			EscalationLevels: []string{"quality_lead", "medical_director"},
		},
		{
			Type: api.WorkflowExceptionHandling,
			Steps: []api.StepSpec{
				{ID: StepDetectExceptions, DisplayName: "Detect exceptions", Timeout: 15 * time.Minute},
				{ID: StepNotifyAdmins, DisplayName: "Notify administrators", Timeout: 15 * time.Minute},
			},
			EscalationLevels: []string{"operations_lead"},
		},
	}
}

// NewDefaultRegistry returns a Registry holding DefaultDefinitions.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions()...)
	if err != nil {
		panic(err)
	}
	return r
}
