package sla

import (
	"testing"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

func TestNewRegistry_Validation(t *testing.T) {
	cases := []struct {
		name string
		defs []api.SLADefinition
	}{
		{"missing status", []api.SLADefinition{{Target: time.Hour}}},
		{"zero target", []api.SLADefinition{{Status: "s"}}},
		{"warning equals target", []api.SLADefinition{{Status: "s", Target: time.Hour, Warning: time.Hour}}},
		{"warning above target", []api.SLADefinition{{Status: "s", Target: time.Hour, Warning: 2 * time.Hour}}},
		{"duplicate", []api.SLADefinition{
			{Status: "s", Target: time.Hour},
			{Status: "s", Target: 2 * time.Hour},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.defs...); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultDefinitionsAreValid(t *testing.T) {
	r := NewDefaultRegistry()
	defs := r.Definitions()
	if len(defs) == 0 {
		t.Fatalf("expected built-in SLA definitions")
	}
	if _, ok := r.Get(api.CaseInReview); !ok {
		t.Fatalf("expected an SLA for %s", api.CaseInReview)
	}
	if defs[0].Status != api.CaseSubmitted {
		t.Fatalf("definitions should keep registration order, got %s first", defs[0].Status)
	}
}

func TestCompliance(t *testing.T) {
	cases := map[int]float64{0: 100, 1: 90, 3: 70, 10: 0, 25: 0}
	for breached, want := range cases {
		if got := Compliance(breached); got != want {
			t.Fatalf("Compliance(%d) = %v, want %v", breached, got, want)
		}
	}
}
