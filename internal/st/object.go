package st

import "fmt"

// ObjectType is the kind of a logical object.
type ObjectType int

const (
	File ObjectType = iota
	Folder
	Anchor
)

func (t ObjectType) String() string {
	switch t {
	case File:
		return "file"
	case Folder:
		return "folder"
	case Anchor:
		return "anchor"
	default:
		return fmt.Sprintf("ObjectType(%d)", int(t))
	}
}

// Object is the metadata of a logical filesystem object.
type Object struct {
	SOID   SOID
	Type   ObjectType
	Parent OID
	Name   string

	// Expelled is the object's own flag. Whether the object is expelled in
	// aggregate also depends on its ancestors.
	Expelled bool

	// ChildSidx is the store mounted by an anchor.
	ChildSidx SIndex

	// FID binds the object to its physical artifact. Empty when the object
	// is not materialized.
	FID string

	// Branches lists the local content branches of a file.
	Branches []KIndex
}

// IsExpellable reports whether the object may carry its own expulsion flag.
func (o *Object) IsExpellable() bool {
	return o.Type == Folder || o.Type == Anchor
}

// Materialized reports whether the object is bound to a physical artifact.
func (o *Object) Materialized() bool {
	return o.FID != ""
}
