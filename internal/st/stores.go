package st

import (
	"time"

	"st-go/internal/txn"
)

// Store describes a synchronization scope known to this device.
type Store struct {
	Sidx            SIndex
	Name            string
	CreatedAt       time.Time
	CollectorEpoch  int64
	TeardownPending bool
}

// StoreLifecycle manages the existence of stores.
type StoreLifecycle interface {
	// Exists reports whether the store's metadata is still present.
	Exists(sidx SIndex) (bool, error)

	// ResetReplicationFilters makes the store collect content from every
	// device again.
	ResetReplicationFilters(sidx SIndex, t *txn.Trans) error

	// RunDeferredTeardown deletes the metadata of a store previously
	// marked for teardown.
	RunDeferredTeardown(sidx SIndex, t *txn.Trans) error

	// RegisterParent records that child is mounted by the anchor parent
	// under name.
	RegisterParent(child SIndex, parent SOID, name string, t *txn.Trans) error
}

// StoreRegistry is the StoreLifecycle extended with the operations the
// service needs to create stores and find those waiting for teardown.
type StoreRegistry interface {
	StoreLifecycle
	Create(name string, t *txn.Trans) (SIndex, error)
	PendingTeardown() ([]SIndex, error)
}
