package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/petrijr/caseflow/pkg/api"
)

// Registry is the read-only catalog of workflow definitions. It is built
// once at startup and never mutated, so lookups need no locking.
type Registry struct {
	byType map[api.WorkflowType]api.WorkflowDefinition
}

// NewRegistry validates defs and freezes them into a Registry.
func NewRegistry(defs ...api.WorkflowDefinition) (*Registry, error) {
	r := &Registry{byType: make(map[api.WorkflowType]api.WorkflowDefinition, len(defs))}
	for _, def := range defs {
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		if _, exists := r.byType[def.Type]; exists {
			return nil, fmt.Errorf("workflow %q already registered", def.Type)
		}
		def.Steps = append([]api.StepSpec(nil), def.Steps...)
		def.EscalationLevels = append([]string(nil), def.EscalationLevels...)
		r.byType[def.Type] = def
	}
	return r, nil
}

func validateDefinition(def api.WorkflowDefinition) error {
	if def.Type == "" {
		return errors.New("workflow type is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %q must have at least one step", def.Type)
	}
	seen := make(map[api.StepID]struct{}, len(def.Steps))
	for i, s := range def.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %q step %d has no id", def.Type, i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("workflow %q has duplicate step %q", def.Type, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Get returns the definition for workflowType or api.ErrUnknownWorkflow.
func (r *Registry) Get(workflowType api.WorkflowType) (api.WorkflowDefinition, error) {
	def, ok := r.byType[workflowType]
	if !ok {
		return api.WorkflowDefinition{}, fmt.Errorf("%w: %q", api.ErrUnknownWorkflow, workflowType)
	}
	return def, nil
}

// Types lists the registered workflow types in sorted order.
func (r *Registry) Types() []api.WorkflowType {
	out := make([]api.WorkflowType, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Definitions returns every definition, ordered by type.
func (r *Registry) Definitions() []api.WorkflowDefinition {
	types := r.Types()
	out := make([]api.WorkflowDefinition, 0, len(types))
	for _, t := range types {
		out = append(out, r.byType[t])
	}
	return out
}
