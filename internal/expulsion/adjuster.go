package expulsion

import (
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// Adjuster performs the physical work of one kind of expulsion transition.
// oldPath is where the object was before the change; its current path is
// looked up. An error aborts the enclosing transaction.
type Adjuster interface {
	Adjust(oldPath st.ResolvedPath, soid st.SOID, op st.PhysicalOp, t *txn.Trans) error
}

// admittedToAdmitted moves the physical representation along with the
// object, after clearing staged leftovers at the destination.
type admittedToAdmitted struct {
	dir     st.Directory
	ps      st.PhysicalStorage
	staging st.StagingArea
}

func (a *admittedToAdmitted) Adjust(oldPath st.ResolvedPath, soid st.SOID, op st.PhysicalOp, t *txn.Trans) error {
	if op != st.PhysicalApply {
		return nil
	}
	newPath, err := a.dir.Resolve(soid)
	if err != nil {
		return err
	}
	if oldPath.SameLocation(newPath) {
		return nil
	}
	if err := a.staging.EnsureClean(newPath, t); err != nil {
		return err
	}

	o, err := getObject(a.dir, soid)
	if err != nil {
		return err
	}
	if o.Type != st.File {
		return a.ps.NewFolder(oldPath).Move(newPath, t)
	}
	for _, kidx := range branchesOf(o) {
		if err := a.ps.NewFile(oldPath, kidx).Move(newPath, t); err != nil {
			return fmt.Errorf("moving branch %d of %s: %w", kidx, soid, err)
		}
	}
	return nil
}

// admittedToExpelled hands the object to the staging area. Anything moved
// into a trash folder keeps its history.
type admittedToExpelled struct {
	dir             st.Directory
	staging         st.StagingArea
	preserveHistory bool
}

func (a *admittedToExpelled) Adjust(oldPath st.ResolvedPath, soid st.SOID, _ st.PhysicalOp, t *txn.Trans) error {
	newPath, err := a.dir.Resolve(soid)
	if err != nil {
		return err
	}
	preserve := a.preserveHistory || inTrash(newPath)
	return a.staging.StageCleanup(soid, oldPath, preserve, t)
}

// expelledToExpelled only keeps staged bookkeeping consistent.
type expelledToExpelled struct {
	staging st.StagingArea
}

func (a *expelledToExpelled) Adjust(oldPath st.ResolvedPath, _ st.SOID, _ st.PhysicalOp, t *txn.Trans) error {
	return a.staging.PreserveStaging(oldPath, t)
}

// expelledToAdmitted materializes the current tree below the object,
// skipping subtrees that are still expelled on their own.
type expelledToAdmitted struct {
	dir      st.Directory
	ps       st.PhysicalStorage
	staging  st.StagingArea
	versions st.VersionControl
	queue    st.ContentQueue
	stores   st.StoreLifecycle

	// resets collects the stores that gained admitted files in a
	// transaction; their collector filters are reset once at commit.
	resets *txn.Set[st.SIndex]
}

func (a *expelledToAdmitted) Adjust(oldPath st.ResolvedPath, soid st.SOID, op st.PhysicalOp, t *txn.Trans) error {
	newPath, err := a.dir.Resolve(soid)
	if err != nil {
		return err
	}
	if !oldPath.SameLocation(newPath) {
		if err := a.staging.PreserveStaging(oldPath, t); err != nil {
			return err
		}
		if err := a.staging.EnsureClean(oldPath, t); err != nil {
			return err
		}
	}

	root, err := getObject(a.dir, soid)
	if err != nil {
		return err
	}

	stillExpelled := func(n *st.Object) bool {
		return n.SOID != soid && n.Expelled
	}
	return st.Walk(a.dir, root, newPath, func(p st.ResolvedPath, n *st.Object) (bool, error) {
		if stillExpelled(n) {
			return false, nil
		}
		if err := a.staging.EnsureClean(p, t); err != nil {
			return false, err
		}
		return true, a.materialize(p, n, op, t)
	}, func(p st.ResolvedPath, n *st.Object) error {
		if stillExpelled(n) {
			return nil
		}
		return a.staging.EndStaging(n.SOID, p, t)
	})
}

func (a *expelledToAdmitted) materialize(p st.ResolvedPath, n *st.Object, op st.PhysicalOp, t *txn.Trans) error {
	switch n.Type {
	case st.Folder, st.Anchor:
		folder := a.ps.NewFolder(p)
		fid, err := folder.Create(op, t)
		if err != nil {
			return fmt.Errorf("creating %s: %w", p, err)
		}
		if fid != "" {
			if err := a.dir.SetPhysicalIdentity(n.SOID, fid, t); err != nil {
				return err
			}
		}
		if n.Type == st.Folder {
			return nil
		}
		if err := folder.PromoteToStoreMount(n.ChildSidx, op, t); err != nil {
			return err
		}
		return a.stores.RegisterParent(n.ChildSidx, n.SOID, n.Name, t)

	default:
		// Cleanup above may have just dropped stale branches, so look again.
		cur, err := getObject(a.dir, n.SOID)
		if err != nil {
			return err
		}
		if len(cur.Branches) > 0 {
			return fmt.Errorf("admitting %s: file already has %d branches: %w", p, len(cur.Branches), st.ErrInvariant)
		}
		if err := a.versions.ClearVersion(n.SOID, t); err != nil {
			return err
		}
		newer, err := a.versions.HasNewerRemoteThan(n.SOID, 0)
		if err != nil {
			return err
		}
		if newer {
			if err := a.queue.EnqueueFetch(n.SOID, t); err != nil {
				return err
			}
		}
		a.resets.Add(t, n.SOID.Sidx)
		return nil
	}
}

func getObject(dir st.Directory, soid st.SOID) (*st.Object, error) {
	o, err := dir.Get(soid)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("object %s: %w", soid, st.ErrNotFound)
	}
	return o, nil
}

// branchesOf returns the master branch followed by any conflict branches.
func branchesOf(o *st.Object) []st.KIndex {
	out := []st.KIndex{st.MasterKIndex}
	for _, k := range o.Branches {
		if k != st.MasterKIndex {
			out = append(out, k)
		}
	}
	return out
}

func inTrash(p st.ResolvedPath) bool {
	for _, s := range p.SOIDs {
		if s.IsTrash() {
			return true
		}
	}
	return false
}
