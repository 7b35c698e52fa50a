package st

import (
	"path"
	"slices"
	"strings"
)

// ResolvedPath is the chain of objects from the top of a store's tree down
// to one object, captured at a point in time. Store roots never appear in
// the chain: the root of a child store shares its location with the anchor
// that mounts it, so the anchor stands in for it.
//
// An empty chain denotes the root of store Sidx.
type ResolvedPath struct {
	Sidx  SIndex
	SOIDs []SOID
	Names []string
}

// NewRootPath returns the empty path of a store root.
func NewRootPath(sidx SIndex) ResolvedPath {
	return ResolvedPath{Sidx: sidx}
}

// IsEmpty reports whether p denotes a store root.
func (p ResolvedPath) IsEmpty() bool {
	return len(p.SOIDs) == 0
}

// SOID returns the object p leads to.
func (p ResolvedPath) SOID() SOID {
	if p.IsEmpty() {
		return SOID{Sidx: p.Sidx, OID: RootOID}
	}
	return p.SOIDs[len(p.SOIDs)-1]
}

// Last returns the final name in p, or "" for a root.
func (p ResolvedPath) Last() string {
	if p.IsEmpty() {
		return ""
	}
	return p.Names[len(p.Names)-1]
}

// Parent returns the path of p's parent. The parent of a root is the root.
func (p ResolvedPath) Parent() ResolvedPath {
	if p.IsEmpty() {
		return p
	}
	n := len(p.SOIDs) - 1
	return ResolvedPath{
		Sidx:  p.Sidx,
		SOIDs: slices.Clone(p.SOIDs[:n]),
		Names: slices.Clone(p.Names[:n]),
	}
}

// Join returns a new path extending p with one child.
func (p ResolvedPath) Join(soid SOID, name string) ResolvedPath {
	return ResolvedPath{
		Sidx:  p.Sidx,
		SOIDs: append(slices.Clone(p.SOIDs), soid),
		Names: append(slices.Clone(p.Names), name),
	}
}

// Contains reports whether soid appears anywhere in the chain.
func (p ResolvedPath) Contains(soid SOID) bool {
	return slices.Contains(p.SOIDs, soid)
}

// IsUnderOrEqual reports whether p is located at or below other. Location
// is compared by names, since that is what determines where artifacts
// live on disk.
func (p ResolvedPath) IsUnderOrEqual(other ResolvedPath) bool {
	if p.Sidx != other.Sidx || len(other.Names) > len(p.Names) {
		return false
	}
	for i, name := range other.Names {
		if p.Names[i] != name {
			return false
		}
	}
	return true
}

// IsStrictlyUnder reports whether p is located below other.
func (p ResolvedPath) IsStrictlyUnder(other ResolvedPath) bool {
	return len(p.Names) > len(other.Names) && p.IsUnderOrEqual(other)
}

// SameLocation reports whether p and other name the same place.
func (p ResolvedPath) SameLocation(other ResolvedPath) bool {
	return len(p.Names) == len(other.Names) && p.IsUnderOrEqual(other)
}

// Rel returns the names of p below ancestor. It returns nil if p is not
// under ancestor.
func (p ResolvedPath) Rel(ancestor ResolvedPath) []string {
	if !p.IsUnderOrEqual(ancestor) {
		return nil
	}
	return slices.Clone(p.Names[len(ancestor.Names):])
}

// StoreRoot returns the prefix of p leading to the mount point of store
// sidx. If no element of p belongs to sidx, p itself is returned.
func (p ResolvedPath) StoreRoot(sidx SIndex) ResolvedPath {
	for i, soid := range p.SOIDs {
		if soid.Sidx == sidx {
			return ResolvedPath{
				Sidx:  p.Sidx,
				SOIDs: slices.Clone(p.SOIDs[:i]),
				Names: slices.Clone(p.Names[:i]),
			}
		}
	}
	return p
}

// String returns the slash separated names of p. A root is "".
func (p ResolvedPath) String() string {
	return strings.Join(p.Names, "/")
}

// SplitPath turns a user supplied slash separated path into clean names.
func SplitPath(raw string) []string {
	cleaned := strings.Trim(path.Clean("/"+raw), "/")
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "/")
}
