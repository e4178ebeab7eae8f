package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// Every pooled connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueue_EnqueueDequeueFIFO(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue(ctx, Task{ID: id, Name: TaskExecuteStep, InstanceID: "inst-" + id}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	if got := q.Len(); got != 3 {
		t.Fatalf("expected Len 3, got %d", got)
	}

	for _, want := range []string{"1", "2", "3"} {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if task.ID != want {
			t.Fatalf("expected task %s, got %s", want, task.ID)
		}
		if task.InstanceID != "inst-"+want {
			t.Fatalf("expected instance inst-%s, got %s", want, task.InstanceID)
		}
	}

	if got := q.Len(); got != 0 {
		t.Fatalf("expected Len 0, got %d", got)
	}
}

func TestSQLiteQueue_PreservesTaskFields(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	orig := Task{
		ID:          "t-1",
		Name:        TaskExecuteStep,
		InstanceID:  "inst-1",
		StepID:      "account_setup",
		Payload:     map[string]any{"entityId": "prof-1", "attempt": 2},
		Attempts:    1,
		MaxAttempts: 4,
		Backoff:     Backoff{Initial: 250 * time.Millisecond, Multiplier: 3, Max: 10 * time.Second},
	}
	if err := q.Enqueue(ctx, orig); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if got.StepID != orig.StepID || got.Name != orig.Name {
		t.Fatalf("identity mismatch: %#v", got)
	}
	if got.Payload["entityId"] != "prof-1" || got.Payload["attempt"] != 2 {
		t.Fatalf("payload mismatch: %#v", got.Payload)
	}
	if got.Attempts != 1 || got.MaxAttempts != 4 || got.Backoff != orig.Backoff {
		t.Fatalf("retry fields mismatch: %#v", got)
	}
	if got.EnqueuedAt.IsZero() || got.NotBefore.Before(got.EnqueuedAt) {
		t.Fatalf("expected EnqueuedAt/NotBefore to be stamped, got %v/%v", got.EnqueuedAt, got.NotBefore)
	}
}

func TestSQLiteQueue_RespectsNotBefore(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	delay := 100 * time.Millisecond
	start := time.Now()
	if err := q.Enqueue(ctx, Task{ID: "delayed", NotBefore: start.Add(delay)}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID != "delayed" {
		t.Fatalf("unexpected task %q", task.ID)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("task dequeued too early: %v < %v", elapsed, delay)
	}
}

func TestSQLiteQueue_DequeueHonorsContextCancellation(t *testing.T) {
	q := newTestSQLiteQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSQLiteQueue_FallsBackToRowID(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Task{Name: TaskExecuteStep}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected generated ID from row id")
	}
}
