// Package dispatch maps (workflow type, step id) pairs to step handlers.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/caseflow/pkg/api"
)

// StepHandler performs the side effect of one workflow step. It must either
// complete or return an error; it never suspends.
type StepHandler interface {
	Handle(ctx context.Context, in api.StepInput) error
}

// HandlerFunc adapts a function to StepHandler.
type HandlerFunc func(ctx context.Context, in api.StepInput) error

func (f HandlerFunc) Handle(ctx context.Context, in api.StepInput) error { return f(ctx, in) }

// HandlerKey identifies a handler slot.
type HandlerKey struct {
	WorkflowType api.WorkflowType
	StepID       api.StepID
}

func (k HandlerKey) String() string { return string(k.WorkflowType) + ":" + string(k.StepID) }

// Registry is a typed handler table. Lookups fail closed: a missing pair
// yields *api.UnknownStepError, never a silent no-op.
type Registry struct {
	mu       sync.RWMutex
	handlers map[HandlerKey]StepHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[HandlerKey]StepHandler)}
}

// Register adds h for (workflowType, stepID). Registering the same pair
// twice is an error.
func (r *Registry) Register(workflowType api.WorkflowType, stepID api.StepID, h StepHandler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s:%s", workflowType, stepID)
	}
	key := HandlerKey{WorkflowType: workflowType, StepID: stepID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler for %s already registered", key)
	}
	r.handlers[key] = h
	return nil
}

// MustRegister is Register that panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(workflowType api.WorkflowType, stepID api.StepID, h StepHandler) {
	if err := r.Register(workflowType, stepID, h); err != nil {
		panic(err)
	}
}

// Dispatch runs the handler registered for in's (WorkflowType, StepID).
func (r *Registry) Dispatch(ctx context.Context, in api.StepInput) error {
	r.mu.RLock()
	h, ok := r.handlers[HandlerKey{WorkflowType: in.WorkflowType, StepID: in.StepID}]
	r.mu.RUnlock()

	if !ok {
		return &api.UnknownStepError{WorkflowType: in.WorkflowType, StepID: in.StepID}
	}
	return h.Handle(ctx, in)
}

// Has reports whether a handler is registered for the pair.
func (r *Registry) Has(workflowType api.WorkflowType, stepID api.StepID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[HandlerKey{WorkflowType: workflowType, StepID: stepID}]
	return ok
}

// Keys lists registered pairs in a stable order.
func (r *Registry) Keys() []HandlerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]HandlerKey, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Validate returns an error listing every step of defs that has no handler.
func (r *Registry) Validate(defs ...api.WorkflowDefinition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, def := range defs {
		for _, s := range def.Steps {
			key := HandlerKey{WorkflowType: def.Type, StepID: s.ID}
			if _, ok := r.handlers[key]; !ok {
				missing = append(missing, key.String())
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("steps without handlers: %v", missing)
	}
	return nil
}
