package database

import (
	"database/sql"
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// FetchQueue implements st.ContentQueue on the fetch_queue table.
type FetchQueue struct {
	tm    *txn.Manager
	clock st.Clock
}

var _ st.ContentQueue = (*FetchQueue)(nil)

// EnqueueFetch schedules a download of soid. Enqueuing twice keeps the
// original position.
func (q *FetchQueue) EnqueueFetch(soid st.SOID, t *txn.Trans) error {
	_, err := exec(t, "INSERT OR IGNORE INTO fetch_queue (sidx, oid, enqueued_at) VALUES (?, ?, ?)",
		soid.Sidx, soid.OID, q.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueuing fetch of %s: %w", soid, err)
	}
	return nil
}

// Pending lists queued downloads in the order they were enqueued.
func (q *FetchQueue) Pending() ([]st.SOID, error) {
	var out []st.SOID
	err := queryAll(q.tm.Querier(), func(rows *sql.Rows) error {
		var s st.SOID
		if err := rows.Scan(&s.Sidx, &s.OID); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}, "SELECT sidx, oid FROM fetch_queue ORDER BY enqueued_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("listing fetch queue: %w", err)
	}
	return out, nil
}

// Dequeue removes soid from the queue.
func (q *FetchQueue) Dequeue(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "DELETE FROM fetch_queue WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("dequeuing %s: %w", soid, err)
	}
	return nil
}
