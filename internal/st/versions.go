package st

import "st-go/internal/txn"

// VersionControl tracks content versions of files.
type VersionControl interface {
	LocalVersion(soid SOID) (int64, error)
	SetLocalVersion(soid SOID, version int64, t *txn.Trans) error

	// ClearVersion forgets the local version of a file.
	ClearVersion(soid SOID, t *txn.Trans) error

	// SetRemoteVersion records the newest version known to exist elsewhere.
	SetRemoteVersion(soid SOID, version int64, t *txn.Trans) error

	// HasNewerRemoteThan reports whether a version newer than known is
	// available from other devices.
	HasNewerRemoteThan(soid SOID, known int64) (bool, error)

	// DeleteAllPendingDownloadVersions forgets all partial downloads.
	DeleteAllPendingDownloadVersions(soid SOID, t *txn.Trans) error
}

// ContentQueue schedules content downloads.
type ContentQueue interface {
	EnqueueFetch(soid SOID, t *txn.Trans) error
	Pending() ([]SOID, error)
}
