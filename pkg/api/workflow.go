package api

import (
	"encoding/gob"
	"math"
	"time"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// WorkflowType identifies a workflow definition, e.g. "case_processing".
type WorkflowType string

// StepID identifies a step within a workflow definition.
type StepID string

const (
	WorkflowCaseProcessing         WorkflowType = "case_processing"
	WorkflowProfessionalOnboarding WorkflowType = "professional_onboarding"
	WorkflowPeerReview             WorkflowType = "peer_review"
	WorkflowExceptionHandling      WorkflowType = "exception_handling"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepStatus is the state of a single step attempt.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Payload is opaque key/value data threaded through every step invocation.
// Values must be gob-encodable for the durable backends.
type Payload map[string]any

// Clone returns a shallow copy of p. A nil payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the value for key if it is a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// StepSpec describes a single step of a workflow definition.
//
// Timeout is the nominal time a step is expected to take. It is declared
// for operators and escalation tooling; the orchestrator does not enforce it.
type StepSpec struct {
	ID          StepID
	DisplayName string
	Timeout     time.Duration
}

// WorkflowDefinition describes a workflow as an ordered, fixed sequence of steps.
type WorkflowDefinition struct {
	Type  WorkflowType
	Steps []StepSpec

	// EscalationLevels lists the roles to notify, in order, when an
	// instance stalls.
	EscalationLevels []string
}

// StepIndex returns the index of the step with the given id, or -1.
func (d WorkflowDefinition) StepIndex(id StepID) int {
	for i, s := range d.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// WorkflowInstance is one execution of a WorkflowDefinition against a
// business entity.
type WorkflowInstance struct {
	ID           string
	WorkflowType WorkflowType
	EntityID     string
	Status       Status

	// CurrentStepIndex always indexes into the definition's steps:
	//   - while active: the step being (or about to be) executed
	//   - after completion: the last step
	// It only moves forward.
	CurrentStepIndex int

	Payload Payload

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CreatedBy   string
}

// Terminal reports whether the instance will never advance again.
func (i *WorkflowInstance) Terminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// Progress returns the completion percentage of inst for a workflow with
// totalSteps steps: round(stepIndex/totalSteps*100). Completed instances
// report 100.
func Progress(inst *WorkflowInstance, totalSteps int) int {
	if inst == nil || totalSteps <= 0 {
		return 0
	}
	if inst.Status == StatusCompleted {
		return 100
	}
	return int(math.Round(float64(inst.CurrentStepIndex) / float64(totalSteps) * 100))
}

// StepRecord is an append-only record of one executed step attempt.
type StepRecord struct {
	ID                 string
	WorkflowInstanceID string
	StepID             StepID
	StepIndex          int
	Attempt            int
	Status             StepStatus
	StartedAt          time.Time
	CompletedAt        *time.Time
	Error              string
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	WorkflowType WorkflowType
	Status       Status
	EntityID     string
}

// StepInput is what a step handler receives.
type StepInput struct {
	InstanceID   string
	WorkflowType WorkflowType
	EntityID     string
	StepID       StepID
	StepIndex    int
	Payload      Payload
}
