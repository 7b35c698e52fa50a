package database

import (
	"database/sql"
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// OperationLog implements st.OperationLog. Each call runs in its own
// transaction.
type OperationLog struct {
	tm    *txn.Manager
	clock st.Clock
}

var _ st.OperationLog = (*OperationLog)(nil)

func (l *OperationLog) Start(operation, parameters string) (int64, error) {
	var id int64
	err := l.tm.Run(func(t *txn.Trans) error {
		res, err := exec(t, "INSERT INTO operations (started_at, operation, parameters) VALUES (?, ?, ?)",
			l.clock.Now().UTC(), operation, parameters)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create operation: %w", err)
	}
	return id, nil
}

func (l *OperationLog) Finish(id int64, status string) error {
	err := l.tm.Run(func(t *txn.Trans) error {
		_, err := exec(t, "UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
			l.clock.Now().UTC(), status, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to finish operation: %w", err)
	}
	return nil
}

// List returns the most recent operations first.
func (l *OperationLog) List(limit int) ([]*st.Operation, error) {
	var out []*st.Operation
	err := queryAll(l.tm.Querier(), func(rows *sql.Rows) error {
		var (
			op       st.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished); err != nil {
			return err
		}
		if finished.Valid {
			ft := finished.Time
			op.FinishedAt = &ft
		}
		out = append(out, &op)
		return nil
	}, "SELECT id, operation, parameters, status, started_at, finished_at FROM operations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return out, nil
}
