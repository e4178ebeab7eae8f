package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/caseflow/pkg/api"
)

// caseFixture is what the case store contract needs from each backend.
type caseFixture interface {
	api.CaseStore
	api.ReviewerDirectory
	api.PeerReviewStore
	put(t *testing.T, c api.CaseRef)
	putPro(t *testing.T, p api.Professional)
	fields(t *testing.T, caseID string) map[string]any
}

type memCaseFixture struct{ *InMemoryCaseStore }

func (f memCaseFixture) put(t *testing.T, c api.CaseRef)               { f.PutCase(c) }
func (f memCaseFixture) putPro(t *testing.T, p api.Professional)       { f.PutProfessional(p) }
func (f memCaseFixture) fields(t *testing.T, id string) map[string]any { return f.Fields(id) }

type sqlCaseFixture struct{ *SQLCaseStore }

func (f sqlCaseFixture) put(t *testing.T, c api.CaseRef) {
	require.NoError(t, f.PutCase(context.Background(), c))
}
func (f sqlCaseFixture) putPro(t *testing.T, p api.Professional) {
	require.NoError(t, f.PutProfessional(context.Background(), p))
}
func (f sqlCaseFixture) fields(t *testing.T, id string) map[string]any {
	out, err := f.Fields(context.Background(), id)
	require.NoError(t, err)
	return out
}

func runCaseStoreContract(t *testing.T, store caseFixture) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	store.put(t, api.CaseRef{ID: "c1", Status: api.CaseInReview, StatusChangedAt: now.Add(-80 * time.Hour), AssignedProfessionalID: "p1", Subspecialty: "cardiology"})
	store.put(t, api.CaseRef{ID: "c2", Status: api.CaseInReview, StatusChangedAt: now.Add(-60 * time.Hour), AssignedProfessionalID: "p1"})
	store.put(t, api.CaseRef{ID: "c3", Status: api.CaseInReview, StatusChangedAt: now.Add(-time.Hour)})
	store.put(t, api.CaseRef{ID: "c4", Status: api.CaseAwaitingAssignment, StatusChangedAt: now.Add(-30 * time.Hour)})

	n, err := store.CountCasesByStatusFilter(ctx, api.CaseFilter{Status: api.CaseInReview})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.CountCasesByStatusFilter(ctx, api.CaseFilter{
		Status:              api.CaseInReview,
		StatusChangedBefore: now.Add(-48 * time.Hour),
		StatusChangedAfter:  now.Add(-72 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only c2 sits in [48h, 72h)")

	n, err = store.CountCasesByStatusFilter(ctx, api.CaseFilter{UnassignedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	old, err := store.FindCasesByStatus(ctx, api.CaseInReview, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "c1", old[0].ID)
	assert.Equal(t, "c2", old[1].ID)

	c, err := store.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "cardiology", c.Subspecialty)
	assert.True(t, c.StatusChangedAt.Equal(now.Add(-80*time.Hour)))

	_, err = store.GetCase(ctx, "missing")
	assert.ErrorIs(t, err, api.ErrCaseNotFound)

	require.NoError(t, store.UpdateCaseFields(ctx, "c4", map[string]any{
		"assigned_professional_id": "p7",
		"status":                   api.CaseInReview,
		"peer_review_due_at":       now.Add(48 * time.Hour),
	}))
	c, err = store.GetCase(ctx, "c4")
	require.NoError(t, err)
	assert.Equal(t, "p7", c.AssignedProfessionalID)
	assert.Equal(t, api.CaseInReview, c.Status)
	assert.True(t, c.StatusChangedAt.After(now.Add(-time.Minute)), "status change restamps the clock")

	f := store.fields(t, "c4")
	due, ok := f["peer_review_due_at"].(time.Time)
	require.True(t, ok, "got %#v", f["peer_review_due_at"])
	assert.True(t, due.Equal(now.Add(48*time.Hour)))

	assert.ErrorIs(t, store.UpdateCaseFields(ctx, "missing", map[string]any{"x": 1}), api.ErrCaseNotFound)

	store.putPro(t, api.Professional{ID: "p1", Name: "Ada", Email: "ada@example.com", Subspecialty: "cardiology", Level: api.LevelDistinguished, Active: true, Vetted: true})
	store.putPro(t, api.Professional{ID: "p2", Name: "Bo", Email: "bo@example.com", Subspecialty: "cardiology", Level: api.LevelSenior, Active: true, Vetted: true})
	store.putPro(t, api.Professional{ID: "p3", Name: "Cy", Email: "cy@example.com", Subspecialty: "oncology", Level: api.LevelDistinguished, Active: true, Vetted: false})

	cardio, err := store.ListProfessionals(ctx, "cardiology")
	require.NoError(t, err)
	require.Len(t, cardio, 2)
	assert.Equal(t, "p1", cardio[0].ID)
	assert.Equal(t, api.LevelDistinguished, cardio[0].Level)
	assert.True(t, cardio[0].Active && cardio[0].Vetted)

	all, err := store.ListProfessionals(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.CreatePeerReview(ctx, api.PeerReview{
		ID: "pr-1", CaseID: "c1", ReviewerID: "p1", AssignedAt: now, DueAt: now.Add(48 * time.Hour),
	}))
}

func TestInMemoryCaseStore(t *testing.T) {
	store := NewInMemoryCaseStore()
	runCaseStoreContract(t, memCaseFixture{store})

	reviews := store.PeerReviews()
	if len(reviews) != 1 || reviews[0].ReviewerID != "p1" {
		t.Fatalf("unexpected peer reviews: %+v", reviews)
	}
}

func TestSQLiteCaseStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteCaseStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteCaseStore failed: %v", err)
	}
	runCaseStoreContract(t, sqlCaseFixture{store})

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM peer_reviews`).Scan(&n); err != nil {
		t.Fatalf("count peer_reviews: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 peer review row, got %d", n)
	}
}
