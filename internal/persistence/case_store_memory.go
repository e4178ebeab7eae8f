package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// InMemoryCaseStore is a reference implementation of the case-side
// collaborators (api.CaseStore, api.ReviewerDirectory, api.PeerReviewStore)
// used by tests and the local runner.
type InMemoryCaseStore struct {
	mu            sync.RWMutex
	cases         map[string]*memCase
	professionals map[string]api.Professional
	reviews       []api.PeerReview
	now           func() time.Time
}

type memCase struct {
	ref    api.CaseRef
	fields map[string]any
}

var (
	_ api.CaseStore         = (*InMemoryCaseStore)(nil)
	_ api.ReviewerDirectory = (*InMemoryCaseStore)(nil)
	_ api.PeerReviewStore   = (*InMemoryCaseStore)(nil)
)

// NewInMemoryCaseStore creates an empty case store.
func NewInMemoryCaseStore() *InMemoryCaseStore {
	return &InMemoryCaseStore{
		cases:         make(map[string]*memCase),
		professionals: make(map[string]api.Professional),
		now:           time.Now,
	}
}

// PutCase inserts or replaces a case.
func (s *InMemoryCaseStore) PutCase(c api.CaseRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = &memCase{ref: c, fields: map[string]any{}}
}

// PutProfessional inserts or replaces a professional.
func (s *InMemoryCaseStore) PutProfessional(p api.Professional) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.professionals[p.ID] = p
}

// Fields returns a copy of the free-form fields written to a case.
func (s *InMemoryCaseStore) Fields(caseID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// PeerReviews returns the peer reviews created so far.
func (s *InMemoryCaseStore) PeerReviews() []api.PeerReview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.PeerReview(nil), s.reviews...)
}

func (s *InMemoryCaseStore) CountCasesByStatusFilter(ctx context.Context, filter api.CaseFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.cases {
		if filter.Matches(c.ref) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryCaseStore) FindCasesByStatus(ctx context.Context, status string, olderThan time.Time) ([]api.CaseRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := api.CaseFilter{Status: status, StatusChangedBefore: olderThan}
	var out []api.CaseRef
	for _, c := range s.cases {
		if filter.Matches(c.ref) {
			out = append(out, c.ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StatusChangedAt.Before(out[j].StatusChangedAt) })
	return out, nil
}

// UpdateCaseFields applies fields to a case. The keys "status" and
// "assigned_professional_id" update the projection; a status change
// restamps StatusChangedAt. Every key is kept as a free-form field.
func (s *InMemoryCaseStore) UpdateCaseFields(ctx context.Context, caseID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrCaseNotFound, caseID)
	}
	for k, v := range fields {
		c.fields[k] = v
		switch k {
		case "status":
			if st, ok := v.(string); ok && st != c.ref.Status {
				c.ref.Status = st
				c.ref.StatusChangedAt = s.now()
			}
		case "assigned_professional_id":
			if id, ok := v.(string); ok {
				c.ref.AssignedProfessionalID = id
			}
		}
	}
	return nil
}

func (s *InMemoryCaseStore) GetCase(ctx context.Context, caseID string) (api.CaseRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseID]
	if !ok {
		return api.CaseRef{}, fmt.Errorf("%w: %s", api.ErrCaseNotFound, caseID)
	}
	return c.ref, nil
}

func (s *InMemoryCaseStore) ListProfessionals(ctx context.Context, subspecialty string) ([]api.Professional, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Professional
	for _, p := range s.professionals {
		if subspecialty == "" || p.Subspecialty == subspecialty {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryCaseStore) CreatePeerReview(ctx context.Context, review api.PeerReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, review)
	return nil
}
