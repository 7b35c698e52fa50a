package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNested is returned by Begin when a transaction is already active.
// All metadata mutation runs on a single logical thread, so a second
// concurrent transaction always indicates a programming error.
var ErrNested = errors.New("transaction already active")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager hands out transactions on a single database connection and
// tracks the active one so reads issued mid-transaction observe its
// uncommitted writes.
type Manager struct {
	db     *sql.DB
	mu     sync.Mutex
	active *Trans
}

// NewManager creates a Manager for db.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Begin starts a new transaction. Only one transaction may be active at a time.
func (m *Manager) Begin() (*Trans, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrNested
	}

	tx, err := m.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	t := &Trans{m: m, tx: tx, sets: make(map[any]flusher)}
	m.active = t
	return t, nil
}

// Run executes fn inside a new transaction, committing on success and
// aborting if fn returns an error.
func (m *Manager) Run(fn func(t *Trans) error) error {
	t, err := m.Begin()
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		t.Abort()
		return err
	}
	return t.Commit()
}

// Querier returns the active transaction if there is one, otherwise the
// underlying database.
func (m *Manager) Querier() Querier {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active.tx
	}
	return m.db
}

// InTransaction reports whether a transaction is currently active.
func (m *Manager) InTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

func (m *Manager) release(t *Trans) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == t {
		m.active = nil
	}
}
