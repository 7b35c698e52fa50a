package st

import "st-go/internal/txn"

// Expulsion tracks which objects are excluded from local storage and
// applies the physical consequences of changes.
type Expulsion interface {
	IsExpelled(path ResolvedPath) (bool, error)
	SetExpelled(expelled bool, soid SOID, t *txn.Trans) error
	ObjectMoved(oldPath ResolvedPath, soid SOID, op PhysicalOp, t *txn.Trans) error
	ObjectAliased(alias SOID, target *SOID, t *txn.Trans) error
	ListExcludedObjects() ([]SOID, error)
	AddListener(l ExpulsionListener)
}

// ExpulsionListener is notified about anchors that became expelled.
type ExpulsionListener interface {
	AnchorExpelled(anchor SOID, child SIndex, t *txn.Trans) error
}
