package caseflow

import (
	"database/sql"
	"log/slog"

	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/internal/taskqueue"
)

// NewSQLiteBundle constructs a durable Runtime whose instances, step
// records, exceptions, queued tasks and reference case store all live in
// the same SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:caseflow.db?_pragma=busy_timeout(5000)")
//	rt, cases, err := caseflow.NewSQLiteBundle(db, caseflow.Options{Retry: caseflow.Retry(5).Ptr()})
//	// seed cases, then rt.Run(ctx, caseflow.RunOptions{Concurrency: 2})
//
// opts.Stores, opts.Queue and the case collaborators are filled in; other
// fields are honored.
func NewSQLiteBundle(db *sql.DB, opts Options) (*Runtime, *persistence.SQLCaseStore, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, nil, err
	}
	cases, err := persistence.NewSQLiteCaseStore(db)
	if err != nil {
		return nil, nil, err
	}

	opts.Stores = persistence.Persistence{Instances: store, Steps: store, Exceptions: store}
	opts.Queue = q
	opts.Cases = cases
	opts.Directory = cases
	opts.Reviews = cases
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rt, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	return rt, cases, nil
}
