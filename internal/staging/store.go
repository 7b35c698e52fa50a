package staging

import (
	"st-go/internal/st"
	"st-go/internal/txn"
)

// stagingStore abstracts the persistence of staged entries and of the
// per-object cleanup progress made while draining them. There is at most
// one entry per object. Writes happen inside the caller's transaction and
// disappear if it aborts.
type stagingStore interface {
	// Add persists e and assigns e.Seq. Sequence numbers only grow, so
	// iteration order survives restarts.
	Add(e *st.StagedEntry, t *txn.Trans) error

	// Remove deletes the entry of soid together with its progress.
	Remove(soid st.SOID, t *txn.Trans) error

	// Get returns the entry of soid, or nil.
	Get(soid st.SOID) (*st.StagedEntry, error)

	// Next returns the entry with the smallest Seq greater than after, or
	// nil if there is none.
	Next(after int64) (*st.StagedEntry, error)

	// List returns every entry in Seq order.
	List() ([]*st.StagedEntry, error)

	// MarkCleaned records that oid has been cleaned on behalf of entry.
	MarkCleaned(entry st.SOID, oid st.OID, t *txn.Trans) error
	IsCleaned(entry st.SOID, oid st.OID) (bool, error)
	ClearProgress(entry st.SOID, t *txn.Trans) error
}
