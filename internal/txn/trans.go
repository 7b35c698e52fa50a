package txn

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrDone is returned when committing a transaction that has already
// been committed or aborted.
var ErrDone = errors.New("transaction already finished")

// Trans is a single metadata transaction. Besides the SQL transaction it
// carries hooks that run on commit or abort, and per-transaction
// accumulators (see Set) that are flushed just before commit.
type Trans struct {
	m  *Manager
	tx *sql.Tx

	sets     map[any]flusher
	setOrder []flusher
	onCommit []func()
	onAbort  []func()
	done     bool
}

// Tx returns the underlying SQL transaction.
func (t *Trans) Tx() *sql.Tx {
	return t.tx
}

// OnCommit registers fn to run after a successful commit.
func (t *Trans) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// OnAbort registers fn to run if the transaction is rolled back.
// Abort hooks run in reverse registration order.
func (t *Trans) OnAbort(fn func()) {
	t.onAbort = append(t.onAbort, fn)
}

// Commit flushes accumulators, commits the SQL transaction and runs the
// commit hooks. If anything fails before the SQL commit succeeds the
// transaction is aborted.
func (t *Trans) Commit() error {
	if t.done {
		return ErrDone
	}

	// Flushing may itself add to later sets, so iterate by index.
	for i := 0; i < len(t.setOrder); i++ {
		if err := t.setOrder[i].flush(t); err != nil {
			t.Abort()
			return fmt.Errorf("flushing before commit: %w", err)
		}
	}

	if err := t.tx.Commit(); err != nil {
		t.abortHooks()
		return fmt.Errorf("committing transaction: %w", err)
	}

	t.done = true
	t.m.release(t)
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

// Abort rolls back the transaction and runs the abort hooks. Calling
// Abort on a finished transaction is a no-op, so it is safe to defer.
func (t *Trans) Abort() {
	if t.done {
		return
	}
	t.tx.Rollback()
	t.abortHooks()
}

func (t *Trans) abortHooks() {
	t.done = true
	t.m.release(t)
	for i := len(t.onAbort) - 1; i >= 0; i-- {
		t.onAbort[i]()
	}
}
