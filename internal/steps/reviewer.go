// Package steps implements the built-in step handlers and wires them into a
// dispatch registry.
package steps

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/caseflow/pkg/api"
)

// PeerReviewDue is the time a reviewer has to complete a peer review.
const PeerReviewDue = 48 * time.Hour

// Case fields written by reviewer assignment.
const (
	FieldPeerReviewerID  = "peer_reviewer_id"
	FieldPeerReviewDueAt = "peer_review_due_at"
)

// ReviewerAssigner picks a peer reviewer for a case.
type ReviewerAssigner struct {
	Cases     api.CaseStore
	Directory api.ReviewerDirectory
	Reviews   api.PeerReviewStore
	Logger    *slog.Logger

	// Intn returns a uniform random int in [0, n). Defaults to math/rand/v2.
	Intn  func(n int) int
	Now   func() time.Time
	NewID func() string
}

func (a *ReviewerAssigner) intn(n int) int {
	if a.Intn != nil {
		return a.Intn(n)
	}
	return rand.IntN(n)
}

func (a *ReviewerAssigner) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *ReviewerAssigner) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// eligible keeps active, vetted, distinguished professionals of the given
// subspecialty.
func eligible(pros []api.Professional, subspecialty string) []api.Professional {
	var out []api.Professional
	for _, p := range pros {
		if p.Active && p.Vetted && p.Level == api.LevelDistinguished && p.Subspecialty == subspecialty {
			out = append(out, p)
		}
	}
	return out
}

// Assign selects a reviewer uniformly at random among eligible
// professionals, stamps the reviewer and due date on the case and stores
// the PeerReview. With no eligible professional it returns
// api.ErrNoReviewerAvailable and creates nothing.
func (a *ReviewerAssigner) Assign(ctx context.Context, caseID string) (api.PeerReview, error) {
	c, err := a.Cases.GetCase(ctx, caseID)
	if err != nil {
		return api.PeerReview{}, fmt.Errorf("load case %s: %w", caseID, err)
	}

	pros, err := a.Directory.ListProfessionals(ctx, c.Subspecialty)
	if err != nil {
		return api.PeerReview{}, fmt.Errorf("list professionals: %w", err)
	}
	candidates := eligible(pros, c.Subspecialty)
	if len(candidates) == 0 {
		return api.PeerReview{}, fmt.Errorf("case %s (%s): %w", caseID, c.Subspecialty, api.ErrNoReviewerAvailable)
	}

	reviewer := candidates[a.intn(len(candidates))]
	now := a.now()
	newID := a.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	review := api.PeerReview{
		ID:         newID(),
		CaseID:     caseID,
		ReviewerID: reviewer.ID,
		AssignedAt: now,
		DueAt:      now.Add(PeerReviewDue),
	}
	// The review is created last so a retried step never leaves a second one.
	if err := a.Cases.UpdateCaseFields(ctx, caseID, map[string]any{
		FieldPeerReviewerID:  reviewer.ID,
		FieldPeerReviewDueAt: review.DueAt,
	}); err != nil {
		return api.PeerReview{}, fmt.Errorf("update case %s: %w", caseID, err)
	}
	if err := a.Reviews.CreatePeerReview(ctx, review); err != nil {
		return api.PeerReview{}, fmt.Errorf("create peer review: %w", err)
	}

	a.logger().Info("peer reviewer assigned",
		"case_id", caseID,
		"reviewer_id", reviewer.ID,
		"candidates", len(candidates),
		"due_at", review.DueAt,
	)
	return review, nil
}

// Handle assigns a reviewer for the case the instance is driving.
func (a *ReviewerAssigner) Handle(ctx context.Context, in api.StepInput) error {
	_, err := a.Assign(ctx, in.EntityID)
	return err
}
