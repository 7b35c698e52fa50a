package st

import "st-go/internal/txn"

// Directory provides access to object metadata. Reads observe the active
// transaction, if any; writes always happen inside the given transaction.
type Directory interface {
	// Get returns the object, or nil if it does not exist.
	Get(soid SOID) (*Object, error)

	// Resolve returns the current path of an object. Paths cross from a
	// child store into its parent through the anchor that mounts it.
	Resolve(soid SOID) (ResolvedPath, error)

	// Children lists the objects whose parent is the given folder (or
	// store root), files first and then by name.
	Children(parent SOID) ([]*Object, error)

	// ChildByName returns the named child of parent, or nil.
	ChildByName(sidx SIndex, parent OID, name string) (*Object, error)

	Create(o *Object, t *txn.Trans) error
	Move(soid SOID, parent OID, name string, t *txn.Trans) error
	SetExpelled(soid SOID, expelled bool, t *txn.Trans) error

	SetPhysicalIdentity(soid SOID, fid string, t *txn.Trans) error
	ClearPhysicalIdentity(soid SOID, t *txn.Trans) error

	// AddBranch records local content for a file branch.
	AddBranch(soid SOID, kidx KIndex, size int64, t *txn.Trans) error
	// DeleteBranches removes every content branch record of a file.
	DeleteBranches(soid SOID, t *txn.Trans) error
}

// ExclusionSet is the persisted set of objects the user explicitly excluded.
// It is independent of the expulsion cascade.
type ExclusionSet interface {
	Add(soid SOID, t *txn.Trans) error
	Remove(soid SOID, t *txn.Trans) error
	Contains(soid SOID) (bool, error)
	List() ([]SOID, error)
}

// ChildrenOf lists the children of o. An anchor's children are those of
// the root of the store it mounts. Files have none.
func ChildrenOf(dir Directory, o *Object) ([]*Object, error) {
	switch o.Type {
	case Folder:
		return dir.Children(o.SOID)
	case Anchor:
		return dir.Children(SOID{Sidx: o.ChildSidx, OID: RootOID})
	default:
		return nil, nil
	}
}
