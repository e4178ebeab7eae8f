package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// SQLCaseStore is a reference api.CaseStore, api.ReviewerDirectory and
// api.PeerReviewStore over the cases, professionals and peer_reviews
// tables. Free-form case fields land in case_fields as gob-encoded values.
type SQLCaseStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

var (
	_ api.CaseStore         = (*SQLCaseStore)(nil)
	_ api.ReviewerDirectory = (*SQLCaseStore)(nil)
	_ api.PeerReviewStore   = (*SQLCaseStore)(nil)
)

// NewSQLiteCaseStore initializes the case tables in a SQLite database.
func NewSQLiteCaseStore(db *sql.DB) (*SQLCaseStore, error) {
	return newSQLCaseStore(db, sqliteDialect)
}

// NewPostgresCaseStore initializes the case tables in a PostgreSQL database.
func NewPostgresCaseStore(db *sql.DB) (*SQLCaseStore, error) {
	return newSQLCaseStore(db, postgresDialect)
}

func newSQLCaseStore(db *sql.DB, d dialect) (*SQLCaseStore, error) {
	s := &SQLCaseStore{db: db, d: d, now: time.Now}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			status_changed_at BIGINT NOT NULL,
			assigned_professional_id TEXT NOT NULL DEFAULT '',
			subspecialty TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_status ON cases (status, status_changed_at)`,
		`CREATE TABLE IF NOT EXISTS case_fields (
			case_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value ` + d.blob + `,
			PRIMARY KEY (case_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS professionals (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			subspecialty TEXT NOT NULL,
			level TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			vetted BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS peer_reviews (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			reviewer_id TEXT NOT NULL,
			assigned_at BIGINT NOT NULL,
			due_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("%s case schema: %w", d.name, err)
		}
	}
	return s, nil
}

// PutCase inserts or replaces a case row.
func (s *SQLCaseStore) PutCase(ctx context.Context, c api.CaseRef) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO cases (id, status, status_changed_at, assigned_professional_id, subspecialty)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status,
			status_changed_at = excluded.status_changed_at,
			assigned_professional_id = excluded.assigned_professional_id,
			subspecialty = excluded.subspecialty`),
		c.ID, c.Status, toNanos(c.StatusChangedAt), c.AssignedProfessionalID, c.Subspecialty)
	return err
}

// PutProfessional inserts or replaces a professional row.
func (s *SQLCaseStore) PutProfessional(ctx context.Context, p api.Professional) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO professionals (id, name, email, subspecialty, level, active, vetted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email,
			subspecialty = excluded.subspecialty, level = excluded.level,
			active = excluded.active, vetted = excluded.vetted`),
		p.ID, p.Name, p.Email, p.Subspecialty, string(p.Level), p.Active, p.Vetted)
	return err
}

func caseWhere(filter api.CaseFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.StatusChangedBefore.IsZero() {
		clauses = append(clauses, "status_changed_at <= ?")
		args = append(args, toNanos(filter.StatusChangedBefore))
	}
	if !filter.StatusChangedAfter.IsZero() {
		clauses = append(clauses, "status_changed_at > ?")
		args = append(args, toNanos(filter.StatusChangedAfter))
	}
	if filter.UnassignedOnly {
		clauses = append(clauses, "assigned_professional_id = ''")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLCaseStore) CountCasesByStatusFilter(ctx context.Context, filter api.CaseFilter) (int, error) {
	where, args := caseWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM cases`+where), args...).Scan(&n)
	return n, err
}

func (s *SQLCaseStore) FindCasesByStatus(ctx context.Context, status string, olderThan time.Time) ([]api.CaseRef, error) {
	where, args := caseWhere(api.CaseFilter{Status: status, StatusChangedBefore: olderThan})
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, status, status_changed_at, assigned_professional_id, subspecialty
		FROM cases`+where+` ORDER BY status_changed_at, id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.CaseRef
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCase(row rowScanner) (api.CaseRef, error) {
	var (
		c       api.CaseRef
		changed int64
	)
	if err := row.Scan(&c.ID, &c.Status, &changed, &c.AssignedProfessionalID, &c.Subspecialty); err != nil {
		return api.CaseRef{}, err
	}
	c.StatusChangedAt = fromNanos(changed)
	return c, nil
}

func (s *SQLCaseStore) GetCase(ctx context.Context, caseID string) (api.CaseRef, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, status, status_changed_at, assigned_professional_id, subspecialty
		FROM cases WHERE id = ?`), caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.CaseRef{}, fmt.Errorf("%w: %s", api.ErrCaseNotFound, caseID)
	}
	return c, err
}

// UpdateCaseFields mirrors InMemoryCaseStore.UpdateCaseFields: "status" and
// "assigned_professional_id" update columns, every key is kept in
// case_fields. Last write wins.
func (s *SQLCaseStore) UpdateCaseFields(ctx context.Context, caseID string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE cases SET id = id WHERE id = ?`), caseID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", api.ErrCaseNotFound, caseID)
	}

	for k, v := range fields {
		switch k {
		case "status":
			if st, ok := v.(string); ok {
				if _, err := tx.ExecContext(ctx, s.d.rebind(`
					UPDATE cases SET status = ?, status_changed_at = ?
					WHERE id = ? AND status <> ?`),
					st, toNanos(s.now()), caseID, st); err != nil {
					return err
				}
			}
		case "assigned_professional_id":
			if id, ok := v.(string); ok {
				if _, err := tx.ExecContext(ctx, s.d.rebind(`
					UPDATE cases SET assigned_professional_id = ? WHERE id = ?`), id, caseID); err != nil {
					return err
				}
			}
		}

		data, err := EncodeValue[any](v)
		if err != nil {
			return fmt.Errorf("encode case field %q: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`
			INSERT INTO case_fields (case_id, name, value) VALUES (?, ?, ?)
			ON CONFLICT (case_id, name) DO UPDATE SET value = excluded.value`),
			caseID, k, data); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Fields returns the free-form fields written to a case.
func (s *SQLCaseStore) Fields(ctx context.Context, caseID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT name, value FROM case_fields WHERE case_id = ?`), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var (
			name string
			data []byte
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		v, err := DecodeValue[any](data)
		if err != nil {
			return nil, fmt.Errorf("decode case field %q: %w", name, err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

func (s *SQLCaseStore) ListProfessionals(ctx context.Context, subspecialty string) ([]api.Professional, error) {
	query := `SELECT id, name, email, subspecialty, level, active, vetted FROM professionals`
	var args []any
	if subspecialty != "" {
		query += ` WHERE subspecialty = ?`
		args = append(args, subspecialty)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Professional
	for rows.Next() {
		var (
			p     api.Professional
			level string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Subspecialty, &level, &p.Active, &p.Vetted); err != nil {
			return nil, err
		}
		p.Level = api.ReviewerLevel(level)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLCaseStore) CreatePeerReview(ctx context.Context, review api.PeerReview) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO peer_reviews (id, case_id, reviewer_id, assigned_at, due_at)
		VALUES (?, ?, ?, ?, ?)`),
		review.ID, review.CaseID, review.ReviewerID, toNanos(review.AssignedAt), toNanos(review.DueAt))
	return err
}
