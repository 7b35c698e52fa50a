package st

import "st-go/internal/txn"

// StagedEntry marks an expelled subtree whose physical cleanup has not yet
// been confirmed.
type StagedEntry struct {
	// Seq orders entries for iteration; it is assigned by the store.
	Seq             int64
	SOID            SOID
	Path            ResolvedPath
	PreserveHistory bool
}

// StagingArea defers and performs physical cleanup of expelled objects.
type StagingArea interface {
	// StageCleanup schedules removal of an object that became expelled.
	// Files, anchors and empty folders are cleaned immediately.
	StageCleanup(soid SOID, path ResolvedPath, preserveHistory bool, t *txn.Trans) error

	// Process drains one staged entry and reports whether entries remain.
	// It manages its own transactions.
	Process() (bool, error)

	// EnsureClean removes any staged leftovers at or below path.
	EnsureClean(path ResolvedPath, t *txn.Trans) error

	// EnsureStoreClean drains every entry of a store and then runs the
	// store's deferred teardown.
	EnsureStoreClean(sidx SIndex, t *txn.Trans) error

	// PreserveStaging keeps staged bookkeeping valid after a move.
	PreserveStaging(oldPath ResolvedPath, t *txn.Trans) error

	// ObjectAliased transfers the entry of alias to target.
	ObjectAliased(alias SOID, target *SOID, t *txn.Trans) error

	// EndStaging drops the entry of an object that has been re-admitted.
	EndStaging(soid SOID, path ResolvedPath, t *txn.Trans) error

	Entries() ([]*StagedEntry, error)
}
