package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// InstanceStore, StepStore and ExceptionStore backed by maps.
// Values are copied on the way in and out.
type InMemoryStore struct {
	mu         sync.RWMutex
	instances  map[string]*api.WorkflowInstance
	steps      map[string][]api.StepRecord
	exceptions map[string]*api.CaseException
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances:  make(map[string]*api.WorkflowInstance),
		steps:      make(map[string][]api.StepRecord),
		exceptions: make(map[string]*api.CaseException),
	}
}

var (
	_ InstanceStore  = (*InMemoryStore)(nil)
	_ StepStore      = (*InMemoryStore)(nil)
	_ ExceptionStore = (*InMemoryStore)(nil)
)

func copyInstance(inst *api.WorkflowInstance) *api.WorkflowInstance {
	cp := *inst
	cp.Payload = inst.Payload.Clone()
	if inst.CompletedAt != nil {
		t := *inst.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyException(ex *api.CaseException) *api.CaseException {
	cp := *ex
	cp.AffectedEntityIDs = append([]string(nil), ex.AffectedEntityIDs...)
	if ex.ResolvedAt != nil {
		t := *ex.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func (s *InMemoryStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("instance %q already exists", inst.ID)
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}
	return copyInstance(inst), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowInstance
	for _, inst := range s.instances {
		if matchesInstance(inst, opts) {
			result = append(result, copyInstance(inst))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// transition applies fn to the active instance at expectedIndex.
func (s *InMemoryStore) transition(id string, expectedIndex int, fn func(*api.WorkflowInstance)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return api.ErrInstanceNotFound
	}
	if inst.Status != api.StatusActive || inst.CurrentStepIndex != expectedIndex {
		return api.ErrStaleInstance
	}
	fn(inst)
	return nil
}

func (s *InMemoryStore) AdvanceInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error {
	return s.transition(id, expectedIndex, func(inst *api.WorkflowInstance) {
		inst.CurrentStepIndex = expectedIndex + 1
		inst.UpdatedAt = now
	})
}

func (s *InMemoryStore) CompleteInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error {
	return s.transition(id, expectedIndex, func(inst *api.WorkflowInstance) {
		inst.Status = api.StatusCompleted
		inst.UpdatedAt = now
		inst.CompletedAt = &now
	})
}

func (s *InMemoryStore) FailInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error {
	return s.transition(id, expectedIndex, func(inst *api.WorkflowInstance) {
		inst.Status = api.StatusFailed
		inst.UpdatedAt = now
	})
}

func (s *InMemoryStore) AppendStepRecord(ctx context.Context, rec *api.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[rec.WorkflowInstanceID] = append(s.steps[rec.WorkflowInstanceID], *rec)
	return nil
}

func (s *InMemoryStore) UpdateStepRecord(ctx context.Context, rec *api.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.steps[rec.WorkflowInstanceID]
	for i := range recs {
		if recs[i].ID == rec.ID {
			recs[i] = *rec
			return nil
		}
	}
	return fmt.Errorf("step record %q not found", rec.ID)
}

func (s *InMemoryStore) ListStepRecords(ctx context.Context, instanceID string) ([]api.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]api.StepRecord(nil), s.steps[instanceID]...), nil
}

func (s *InMemoryStore) SaveException(ctx context.Context, ex *api.CaseException) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exceptions[ex.ID]; ok {
		return fmt.Errorf("exception %q already exists", ex.ID)
	}
	s.exceptions[ex.ID] = copyException(ex)
	return nil
}

func (s *InMemoryStore) GetException(ctx context.Context, id string) (*api.CaseException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.exceptions[id]
	if !ok {
		return nil, api.ErrExceptionNotFound
	}
	return copyException(ex), nil
}

func (s *InMemoryStore) ListExceptions(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.CaseException
	for _, ex := range s.exceptions {
		if matchesException(ex, filter) {
			result = append(result, copyException(ex))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	return result, nil
}

func (s *InMemoryStore) ResolveException(ctx context.Context, id, actor string, at time.Time) (*api.CaseException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.exceptions[id]
	if !ok {
		return nil, api.ErrExceptionNotFound
	}
	if ex.Status == api.ExceptionResolved {
		return nil, api.ErrExceptionResolved
	}
	ex.Status = api.ExceptionResolved
	ex.ResolvedAt = &at
	ex.ResolvedBy = actor
	return copyException(ex), nil
}
