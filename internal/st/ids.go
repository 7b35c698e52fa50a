package st

import (
	"fmt"
	"strconv"
	"strings"
)

// SIndex identifies a store (a synchronization scope) on this device.
type SIndex int64

// RootSIndex is the store that holds the top of the local tree.
const RootSIndex SIndex = 1

// OID identifies an object within a store.
type OID string

const (
	// RootOID is the root folder of every store.
	RootOID OID = "root"
	// TrashOID is the trash folder of every store.
	TrashOID OID = "trash"
)

// TrashName is the name of the trash folder under each store root.
const TrashName = ".st-trash"

// SOID is the store-qualified identity of an object.
type SOID struct {
	Sidx SIndex
	OID  OID
}

func (s SOID) String() string {
	return fmt.Sprintf("%d:%s", s.Sidx, s.OID)
}

// IsRoot reports whether s is the root folder of its store.
func (s SOID) IsRoot() bool {
	return s.OID == RootOID
}

// IsTrash reports whether s is the trash folder of its store.
func (s SOID) IsTrash() bool {
	return s.OID == TrashOID
}

// ParseSOID parses the "sidx:oid" form produced by String.
func ParseSOID(raw string) (SOID, error) {
	sidx, oid, ok := strings.Cut(raw, ":")
	if !ok || oid == "" {
		return SOID{}, fmt.Errorf("invalid object id %q", raw)
	}
	n, err := strconv.ParseInt(sidx, 10, 64)
	if err != nil {
		return SOID{}, fmt.Errorf("invalid store index in %q: %w", raw, err)
	}
	return SOID{Sidx: SIndex(n), OID: OID(oid)}, nil
}

// KIndex identifies a content branch of a file. The master branch is 0;
// conflict copies are numbered from 1.
type KIndex int

// MasterKIndex is the branch holding the file's primary content.
const MasterKIndex KIndex = 0

// PhysicalOp tells physical storage how much real work an operation
// must perform.
type PhysicalOp int

const (
	// PhysicalApply performs the operation on disk.
	PhysicalApply PhysicalOp = iota
	// PhysicalMap records the operation against an artifact that already exists.
	PhysicalMap
	// PhysicalNop skips physical work entirely.
	PhysicalNop
)

func (op PhysicalOp) String() string {
	switch op {
	case PhysicalApply:
		return "apply"
	case PhysicalMap:
		return "map"
	case PhysicalNop:
		return "nop"
	default:
		return "unknown"
	}
}

// ScrubReason records why a physical artifact is being removed.
type ScrubReason int

const (
	// ScrubExpelled: the object left local materialization.
	ScrubExpelled ScrubReason = iota
	// ScrubRemnant: stale leftovers of an object that has been re-admitted
	// elsewhere.
	ScrubRemnant
	// ScrubTeardown: the owning store is being torn down.
	ScrubTeardown
)

func (r ScrubReason) String() string {
	switch r {
	case ScrubExpelled:
		return "expelled"
	case ScrubRemnant:
		return "remnant"
	case ScrubTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}
