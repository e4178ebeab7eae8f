package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petrijr/caseflow/pkg/api"
)

// dialect captures the differences between SQLite and PostgreSQL that
// matter to SQLStore.
type dialect struct {
	name   string
	blob   string
	dollar bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", blob: "BLOB"}
	postgresDialect = dialect{name: "postgres", blob: "BYTEA", dollar: true}
)

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements InstanceStore, StepStore and ExceptionStore on a
// database/sql handle. Use NewSQLiteStore or NewPostgresStore.
//
// The caller is responsible for importing the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//	import _ "github.com/jackc/pgx/v5/stdlib"
type SQLStore struct {
	db *sql.DB
	d  dialect
}

var (
	_ InstanceStore  = (*SQLStore)(nil)
	_ StepStore      = (*SQLStore)(nil)
	_ ExceptionStore = (*SQLStore)(nil)
)

// NewSQLiteStore initializes the schema in a SQLite database.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	return newSQLStore(db, sqliteDialect)
}

// NewPostgresStore initializes the schema in a PostgreSQL database opened
// with the pgx stdlib driver.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	return newSQLStore(db, postgresDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("%s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step_index INTEGER NOT NULL,
			payload ` + s.d.blob + `,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			completed_at BIGINT,
			created_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_instances_type_status ON workflow_instances (workflow_type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_instances_entity ON workflow_instances (entity_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_step_records (
			id TEXT PRIMARY KEY,
			workflow_instance_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_step_records_instance ON workflow_step_records (workflow_instance_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS case_exceptions (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT NOT NULL,
			affected_entity_ids ` + s.d.blob + `,
			status TEXT NOT NULL,
			detected_at BIGINT NOT NULL,
			resolved_at BIGINT,
			resolved_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_case_exceptions_status ON case_exceptions (status, detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	payload, err := encodePayload(inst.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO workflow_instances (id, workflow_type, entity_id, status, current_step_index,
			payload, created_at, updated_at, completed_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		string(inst.WorkflowType),
		inst.EntityID,
		string(inst.Status),
		inst.CurrentStepIndex,
		payload,
		toNanos(inst.CreatedAt),
		toNanos(inst.UpdatedAt),
		optNanos(inst.CompletedAt),
		inst.CreatedBy,
	)
	return err
}

const instanceColumns = `id, workflow_type, entity_id, status, current_step_index,
	payload, created_at, updated_at, completed_at, created_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*api.WorkflowInstance, error) {
	var (
		inst       api.WorkflowInstance
		wfType     string
		status     string
		payload    []byte
		createdAt  int64
		updatedAt  int64
		completed  sql.NullInt64
		completedP *int64
	)
	if err := row.Scan(&inst.ID, &wfType, &inst.EntityID, &status, &inst.CurrentStepIndex,
		&payload, &createdAt, &updatedAt, &completed, &inst.CreatedBy); err != nil {
		return nil, err
	}
	p, err := DecodeValue[map[string]any](payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", inst.ID, err)
	}
	if completed.Valid {
		completedP = &completed.Int64
	}
	inst.WorkflowType = api.WorkflowType(wfType)
	inst.Status = api.Status(status)
	inst.Payload = p
	inst.CreatedAt = fromNanos(createdAt)
	inst.UpdatedAt = fromNanos(updatedAt)
	inst.CompletedAt = fromOptNanos(completedP)
	return &inst, nil
}

func (s *SQLStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`), id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	}
	return inst, err
}

func (s *SQLStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	var (
		clauses []string
		args    []any
	)
	if opts.WorkflowType != "" {
		clauses = append(clauses, "workflow_type = ?")
		args = append(args, string(opts.WorkflowType))
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, opts.EntityID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// transition runs a guarded UPDATE and maps "no row changed" to either
// ErrInstanceNotFound or ErrStaleInstance.
func (s *SQLStore) transition(ctx context.Context, id string, expectedIndex int, set string, args ...any) error {
	args = append(args, id, expectedIndex, string(api.StatusActive))
	res, err := s.exec(ctx, `UPDATE workflow_instances SET `+set+`
		WHERE id = ? AND current_step_index = ? AND status = ?`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM workflow_instances WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	return api.ErrStaleInstance
}

func (s *SQLStore) AdvanceInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error {
	return s.transition(ctx, id, expectedIndex,
		"current_step_index = ?, updated_at = ?", expectedIndex+1, toNanos(now))
}

func (s *SQLStore) CompleteInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error {
	return s.transition(ctx, id, expectedIndex,
		"status = ?, updated_at = ?, completed_at = ?", string(api.StatusCompleted), toNanos(now), toNanos(now))
}

func (s *SQLStore) FailInstance(ctx context.Context, id string, expectedIndex int, now time.Time) error {
	return s.transition(ctx, id, expectedIndex,
		"status = ?, updated_at = ?", string(api.StatusFailed), toNanos(now))
}

func (s *SQLStore) AppendStepRecord(ctx context.Context, rec *api.StepRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `
		INSERT INTO workflow_step_records (id, workflow_instance_id, step_id, step_index, attempt,
			status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.WorkflowInstanceID,
		string(rec.StepID),
		rec.StepIndex,
		rec.Attempt,
		string(rec.Status),
		toNanos(rec.StartedAt),
		optNanos(rec.CompletedAt),
		rec.Error,
	)
	return err
}

func (s *SQLStore) UpdateStepRecord(ctx context.Context, rec *api.StepRecord) error {
	res, err := s.exec(ctx, `
		UPDATE workflow_step_records SET status = ?, completed_at = ?, error = ?
		WHERE id = ?`,
		string(rec.Status),
		optNanos(rec.CompletedAt),
		rec.Error,
		rec.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("step record %q not found", rec.ID)
	}
	return nil
}

func (s *SQLStore) ListStepRecords(ctx context.Context, instanceID string) ([]api.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, workflow_instance_id, step_id, step_index, attempt, status, started_at, completed_at, error
		FROM workflow_step_records
		WHERE workflow_instance_id = ?
		ORDER BY started_at, step_index, attempt`), instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.StepRecord
	for rows.Next() {
		var (
			rec       api.StepRecord
			stepID    string
			status    string
			startedAt int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowInstanceID, &stepID, &rec.StepIndex, &rec.Attempt,
			&status, &startedAt, &completed, &rec.Error); err != nil {
			return nil, err
		}
		rec.StepID = api.StepID(stepID)
		rec.Status = api.StepStatus(status)
		rec.StartedAt = fromNanos(startedAt)
		if completed.Valid {
			rec.CompletedAt = fromOptNanos(&completed.Int64)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *SQLStore) SaveException(ctx context.Context, ex *api.CaseException) error {
	ids, err := encodeStrings(ex.AffectedEntityIDs)
	if err != nil {
		return fmt.Errorf("encode affected ids: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO case_exceptions (id, type, severity, description, affected_entity_ids,
			status, detected_at, resolved_at, resolved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID,
		string(ex.Type),
		string(ex.Severity),
		ex.Description,
		ids,
		string(ex.Status),
		toNanos(ex.DetectedAt),
		optNanos(ex.ResolvedAt),
		ex.ResolvedBy,
	)
	return err
}

const exceptionColumns = `id, type, severity, description, affected_entity_ids,
	status, detected_at, resolved_at, resolved_by`

func scanException(row rowScanner) (*api.CaseException, error) {
	var (
		ex         api.CaseException
		exType     string
		severity   string
		ids        []byte
		status     string
		detectedAt int64
		resolved   sql.NullInt64
	)
	if err := row.Scan(&ex.ID, &exType, &severity, &ex.Description, &ids,
		&status, &detectedAt, &resolved, &ex.ResolvedBy); err != nil {
		return nil, err
	}
	affected, err := DecodeValue[[]string](ids)
	if err != nil {
		return nil, fmt.Errorf("decode affected ids of %s: %w", ex.ID, err)
	}
	ex.Type = api.ExceptionType(exType)
	ex.Severity = api.Severity(severity)
	ex.Status = api.ExceptionStatus(status)
	ex.AffectedEntityIDs = affected
	ex.DetectedAt = fromNanos(detectedAt)
	if resolved.Valid {
		ex.ResolvedAt = fromOptNanos(&resolved.Int64)
	}
	return &ex, nil
}

func (s *SQLStore) GetException(ctx context.Context, id string) (*api.CaseException, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+exceptionColumns+` FROM case_exceptions WHERE id = ?`), id)
	ex, err := scanException(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrExceptionNotFound
	}
	return ex, err
}

func (s *SQLStore) ListExceptions(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error) {
	query := `SELECT ` + exceptionColumns + ` FROM case_exceptions`
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY detected_at DESC, id"

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.CaseException
	for rows.Next() {
		ex, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ex)
	}
	return result, rows.Err()
}

func (s *SQLStore) ResolveException(ctx context.Context, id, actor string, at time.Time) (*api.CaseException, error) {
	res, err := s.exec(ctx, `
		UPDATE case_exceptions SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = ?`,
		string(api.ExceptionResolved), toNanos(at), actor, id, string(api.ExceptionOpen))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	ex, err := s.GetException(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, api.ErrExceptionResolved
	}
	return ex, nil
}
