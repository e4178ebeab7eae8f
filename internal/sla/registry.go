// Package sla holds the per-status service level table and the monitor
// that measures the case population against it.
package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// Registry is a read-only table of SLA definitions keyed by case status.
// Definitions keep the order they were registered in.
type Registry struct {
	defs     []api.SLADefinition
	byStatus map[string]api.SLADefinition
}

// NewRegistry validates defs and returns a Registry. Every definition needs
// a status, a positive target and a warning strictly below the target.
func NewRegistry(defs ...api.SLADefinition) (*Registry, error) {
	r := &Registry{byStatus: make(map[string]api.SLADefinition, len(defs))}
	for _, d := range defs {
		if d.Status == "" {
			return nil, errors.New("sla definition without status")
		}
		if d.Target <= 0 {
			return nil, fmt.Errorf("sla %s: target must be positive", d.Status)
		}
		if d.Warning < 0 || d.Warning >= d.Target {
			return nil, fmt.Errorf("sla %s: warning %s must be below target %s", d.Status, d.Warning, d.Target)
		}
		if _, dup := r.byStatus[d.Status]; dup {
			return nil, fmt.Errorf("sla %s: duplicate definition", d.Status)
		}
		r.byStatus[d.Status] = d
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// NewDefaultRegistry returns the registry for DefaultDefinitions.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition for status.
func (r *Registry) Get(status string) (api.SLADefinition, bool) {
	d, ok := r.byStatus[status]
	return d, ok
}

// Definitions returns a copy of all definitions in registration order.
func (r *Registry) Definitions() []api.SLADefinition {
	return append([]api.SLADefinition(nil), r.defs...)
}

// DefaultDefinitions returns the built-in SLA table.
func DefaultDefinitions() []api.SLADefinition {
	return []api.SLADefinition{
		{Status: api.CaseSubmitted, Target: 2 * time.Hour, Warning: time.Hour},
		{Status: api.CaseAwaitingAssignment, Target: 24 * time.Hour, Warning: 12 * time.Hour},
		{Status: api.CaseInReview, Target: 72 * time.Hour, Warning: 48 * time.Hour},
		{Status: api.CasePendingInformation, Target: 48 * time.Hour, Warning: 24 * time.Hour},
		{Status: api.CasePeerReview, Target: 48 * time.Hour, Warning: 36 * time.Hour},
		{Status: api.CaseReportReady, Target: 4 * time.Hour, Warning: 2 * time.Hour},
	}
}
