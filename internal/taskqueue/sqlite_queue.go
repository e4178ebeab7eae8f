package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// SQLiteQueue is a persistent task queue implementation backed by SQLite.
// Claiming a task deletes its row inside a transaction, so a task handed to
// one worker is never handed to another; redelivery after a failure is the
// worker's job (it re-enqueues).
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT,
			name TEXT NOT NULL,
			instance_id TEXT,
			step_id TEXT,
			payload BLOB,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			max_attempts INTEGER NOT NULL,
			backoff_initial INTEGER NOT NULL,
			backoff_multiplier REAL NOT NULL,
			backoff_max INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_not_before ON tasks (not_before, id);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	payloadBytes, err := encodePayload(t.Payload)
	if err != nil {
		return err
	}

	enqueuedAt := t.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	notBefore := t.NotBefore
	if notBefore.IsZero() {
		notBefore = enqueuedAt
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, name, instance_id, step_id, payload, enqueued_at, not_before,
			attempts, max_attempts, backoff_initial, backoff_multiplier, backoff_max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		string(t.Name),
		t.InstanceID,
		t.StepID,
		payloadBytes,
		enqueuedAt.UnixNano(),
		notBefore.UnixNano(),
		t.Attempts,
		t.MaxAttempts,
		int64(t.Backoff.Initial),
		t.Backoff.Multiplier,
		int64(t.Backoff.Max),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		// Nothing available: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim removes and returns the next due task, or (nil, nil) if none is due.
func (q *SQLiteQueue) claim(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var (
		rowID          int64
		taskID         sql.NullString
		name           string
		instanceID     sql.NullString
		stepID         sql.NullString
		payload        []byte
		enqueuedAt     int64
		notBefore      int64
		attempts       int
		maxAttempts    int
		backoffInitial int64
		backoffMult    float64
		backoffMax     int64
	)

	row := tx.QueryRowContext(ctx, `
		SELECT id, task_id, name, instance_id, step_id, payload, enqueued_at, not_before,
			attempts, max_attempts, backoff_initial, backoff_multiplier, backoff_max
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, id
		LIMIT 1`, time.Now().UnixNano())
	err = row.Scan(&rowID, &taskID, &name, &instanceID, &stepID, &payload, &enqueuedAt, &notBefore,
		&attempts, &maxAttempts, &backoffInitial, &backoffMult, &backoffMax)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Delete the row we just claimed.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, rowID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	decoded, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	id := taskID.String
	if id == "" {
		id = strconv.FormatInt(rowID, 10)
	}

	return &Task{
		ID:          id,
		Name:        TaskName(name),
		InstanceID:  instanceID.String,
		StepID:      stepID.String,
		Payload:     decoded,
		EnqueuedAt:  time.Unix(0, enqueuedAt),
		NotBefore:   time.Unix(0, notBefore),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Backoff: Backoff{
			Initial:    time.Duration(backoffInitial),
			Multiplier: backoffMult,
			Max:        time.Duration(backoffMax),
		},
	}, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
