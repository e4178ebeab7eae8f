package persistence

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestSQLiteStore(t *testing.T) *SQLStore {
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

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestSQLiteStore_Instances(t *testing.T) {
	runInstanceStoreContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_ConcurrentAdvance(t *testing.T) {
	runConcurrentAdvanceContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_Steps(t *testing.T) {
	runStepStoreContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_Exceptions(t *testing.T) {
	runExceptionStoreContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	store := newTestSQLiteStore(t)
	if _, err := NewSQLiteStore(store.db); err != nil {
		t.Fatalf("second NewSQLiteStore on same DB failed: %v", err)
	}
}

func TestDialectRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	if got := sqliteDialect.rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	want := "UPDATE t SET a = $1, b = $2 WHERE id = $3"
	if got := postgresDialect.rebind(q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}
