package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"st-go/internal/database/migrations"
	"st-go/internal/st"
	"st-go/internal/txn"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase holds the metadata database and hands out the
// collaborators that live in it. All of them share one connection and one
// transaction manager, so reads made during a transaction see its writes.
type SQLiteDatabase struct {
	db    *sql.DB
	tm    *txn.Manager
	clock st.Clock
	path  string
}

// NewSQLiteDatabase opens the SQLite database at path.
// path can be a file path or ":memory:" for in-memory database.
// clock may be nil, in which case the real clock is used.
func NewSQLiteDatabase(path string, clock st.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteDatabaseFromDB(db, clock)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock st.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = st.RealClock{}
	}
	return &SQLiteDatabase{
		db:    db,
		tm:    txn.NewManager(db),
		clock: clock,
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer, one connection. This also keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// TxManager returns the transaction manager for this database.
func (s *SQLiteDatabase) TxManager() *txn.Manager {
	return s.tm
}

// DB returns the underlying connection.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// Directory returns the object metadata collaborator.
func (s *SQLiteDatabase) Directory() *Directory {
	return &Directory{tm: s.tm}
}

// Exclusions returns the persisted exclusion set.
func (s *SQLiteDatabase) Exclusions() *ExclusionSet {
	return &ExclusionSet{tm: s.tm}
}

// Versions returns the content version collaborator.
func (s *SQLiteDatabase) Versions() *Versions {
	return &Versions{tm: s.tm}
}

// FetchQueue returns the content fetch queue.
func (s *SQLiteDatabase) FetchQueue() *FetchQueue {
	return &FetchQueue{tm: s.tm, clock: s.clock}
}

// Operations returns the operation log.
func (s *SQLiteDatabase) Operations() *OperationLog {
	return &OperationLog{tm: s.tm, clock: s.clock}
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema up to date.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// exec runs a write statement inside t.
func exec(t *txn.Trans, query string, args ...any) (sql.Result, error) {
	return t.Tx().ExecContext(context.Background(), query, args...)
}

// queryAll runs a read through q and hands every row to scan. Rows are
// always drained and closed before returning, since the single connection
// cannot serve another statement while a result set is open.
func queryAll(q txn.Querier, scan func(*sql.Rows) error, query string, args ...any) error {
	rows, err := q.QueryContext(context.Background(), query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// queryRow runs a single-row read. It reports found=false instead of an
// error when there is no row.
func queryRow(q txn.Querier, dest []any, query string, args ...any) (bool, error) {
	err := q.QueryRowContext(context.Background(), query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
