package api

import (
	"context"
	"time"
)

// CaseRef is the projection of a case the engine works with.
type CaseRef struct {
	ID                     string
	Status                 string
	StatusChangedAt        time.Time
	AssignedProfessionalID string
	Subspecialty           string
}

// CaseFilter selects cases by status and by how long they have been in it.
// Zero times mean "no bound".
type CaseFilter struct {
	Status string

	// StatusChangedBefore keeps cases whose status changed at or before
	// this instant (i.e. at least this old).
	StatusChangedBefore time.Time

	// StatusChangedAfter keeps cases whose status changed strictly after
	// this instant (i.e. younger than this).
	StatusChangedAfter time.Time

	// UnassignedOnly keeps cases without an assigned professional.
	UnassignedOnly bool
}

// Matches reports whether c satisfies the filter.
func (f CaseFilter) Matches(c CaseRef) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if !f.StatusChangedBefore.IsZero() && c.StatusChangedAt.After(f.StatusChangedBefore) {
		return false
	}
	if !f.StatusChangedAfter.IsZero() && !c.StatusChangedAt.After(f.StatusChangedAfter) {
		return false
	}
	if f.UnassignedOnly && c.AssignedProfessionalID != "" {
		return false
	}
	return true
}

// CaseStore is the narrow view of business-case storage the engine needs.
// It lives outside this module; implementations must be safe for
// concurrent use.
type CaseStore interface {
	CountCasesByStatusFilter(ctx context.Context, filter CaseFilter) (int, error)

	// FindCasesByStatus returns cases in status whose status changed at or
	// before olderThan.
	FindCasesByStatus(ctx context.Context, status string, olderThan time.Time) ([]CaseRef, error)

	UpdateCaseFields(ctx context.Context, caseID string, fields map[string]any) error

	GetCase(ctx context.Context, caseID string) (CaseRef, error)
}

// ReviewerLevel is the seniority tier of a professional.
type ReviewerLevel string

const (
	LevelStandard      ReviewerLevel = "standard"
	LevelSenior        ReviewerLevel = "senior"
	LevelDistinguished ReviewerLevel = "distinguished"
)

// Professional is a medical professional as seen by reviewer assignment.
type Professional struct {
	ID           string
	Name         string
	Email        string
	Subspecialty string
	Level        ReviewerLevel
	Active       bool
	Vetted       bool
}

// PeerReview assigns a reviewer to a case.
type PeerReview struct {
	ID         string
	CaseID     string
	ReviewerID string
	AssignedAt time.Time
	DueAt      time.Time
}

// ReviewerDirectory lists professionals for reviewer assignment.
type ReviewerDirectory interface {
	ListProfessionals(ctx context.Context, subspecialty string) ([]Professional, error)
}

// PeerReviewStore persists peer review assignments.
type PeerReviewStore interface {
	CreatePeerReview(ctx context.Context, review PeerReview) error
}

// Notifier delivers templated notifications. Callers treat it as
// fire-and-forget: a failed send never blocks workflow progression.
type Notifier interface {
	Send(ctx context.Context, recipient, templateKey string, data map[string]any) error
}
