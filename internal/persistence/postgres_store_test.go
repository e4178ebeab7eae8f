package persistence

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/caseflow/internal/testutil"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	db    *sql.DB
	store *SQLStore
}

func TestPostgresStoreSuite(t *testing.T) {
	endpoint := testutil.StartPostgresContainer(t)

	db, err := sql.Open("pgx", endpoint)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}

	suite.Run(t, &PostgresStoreTestSuite{db: db, store: store})
}

func (p *PostgresStoreTestSuite) SetupTest() {
	_, err := p.db.Exec("TRUNCATE TABLE workflow_instances, workflow_step_records, case_exceptions")
	p.Require().NoError(err)
}

func (p *PostgresStoreTestSuite) TestInstances() {
	runInstanceStoreContract(p.T(), p.store)
}

func (p *PostgresStoreTestSuite) TestConcurrentAdvance() {
	runConcurrentAdvanceContract(p.T(), p.store)
}

func (p *PostgresStoreTestSuite) TestSteps() {
	runStepStoreContract(p.T(), p.store)
}

func (p *PostgresStoreTestSuite) TestExceptions() {
	runExceptionStoreContract(p.T(), p.store)
}
