package engine

import (
	"errors"
	"testing"

	"github.com/petrijr/caseflow/pkg/api"
)

func TestNewRegistry_RejectsInvalidDefinitions(t *testing.T) {
	cases := []struct {
		name string
		defs []api.WorkflowDefinition
	}{
		{"empty type", []api.WorkflowDefinition{{Steps: []api.StepSpec{{ID: "a"}}}}},
		{"no steps", []api.WorkflowDefinition{{Type: "x"}}},
		{"blank step id", []api.WorkflowDefinition{{Type: "x", Steps: []api.StepSpec{{ID: ""}}}}},
		{"duplicate step", []api.WorkflowDefinition{{Type: "x", Steps: []api.StepSpec{{ID: "a"}, {ID: "a"}}}}},
		{"duplicate type", []api.WorkflowDefinition{
			{Type: "x", Steps: []api.StepSpec{{ID: "a"}}},
			{Type: "x", Steps: []api.StepSpec{{ID: "b"}}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.defs...); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewDefaultRegistry()

	_, err := r.Get("no_such_workflow")
	if !errors.Is(err, api.ErrUnknownWorkflow) {
		t.Fatalf("expected ErrUnknownWorkflow, got %v", err)
	}
}

func TestRegistry_IsolatedFromCallerSlices(t *testing.T) {
	steps := []api.StepSpec{{ID: "a"}, {ID: "b"}}
	r, err := NewRegistry(api.WorkflowDefinition{Type: "x", Steps: steps})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	steps[0].ID = "mutated"

	def, _ := r.Get("x")
	if def.Steps[0].ID != "a" {
		t.Fatalf("registry shares caller's step slice")
	}
}

func TestDefaultDefinitions(t *testing.T) {
	r := NewDefaultRegistry()

	types := r.Types()
	want := []api.WorkflowType{
		api.WorkflowCaseProcessing,
		api.WorkflowExceptionHandling,
		api.WorkflowPeerReview,
		api.WorkflowProfessionalOnboarding,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d types, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Types()[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	onboarding, err := r.Get(api.WorkflowProfessionalOnboarding)
	if err != nil {
		t.Fatalf("Get onboarding: %v", err)
	}
	wantSteps := []api.StepID{StepWelcomeEmail, StepAccountSetup, StepCredentialVerification, StepOrientation, StepActivation}
	if len(onboarding.Steps) != len(wantSteps) {
		t.Fatalf("expected %d onboarding steps, got %d", len(wantSteps), len(onboarding.Steps))
	}
	for i, id := range wantSteps {
		if onboarding.Steps[i].ID != id {
			t.Fatalf("step %d = %s, want %s", i, onboarding.Steps[i].ID, id)
		}
	}

	for _, def := range r.Definitions() {
		if len(def.EscalationLevels) == 0 {
			t.Fatalf("%s has no escalation levels", def.Type)
		}
		for _, s := range def.Steps {
			if s.Timeout <= 0 || s.DisplayName == "" {
				t.Fatalf("%s/%s missing timeout or display name", def.Type, s.ID)
			}
		}
	}
}
