// Package expulsion decides whether objects are materialized locally. It
// owns the expulsion flags and the exclusion set, works out which of the
// four transitions a change amounts to, and dispatches to the matching
// Adjuster.
package expulsion

import (
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// Deps are the collaborators a Coordinator works with.
type Deps struct {
	Directory  st.Directory
	Exclusions st.ExclusionSet
	Staging    st.StagingArea
	Physical   st.PhysicalStorage
	Versions   st.VersionControl
	Queue      st.ContentQueue
	Stores     st.StoreLifecycle
	Logger     st.Logger

	// PreserveHistory keeps a history copy of everything that gets
	// expelled, not only of what is moved to the trash.
	PreserveHistory bool
}

// Coordinator implements st.Expulsion.
type Coordinator struct {
	dir        st.Directory
	exclusions st.ExclusionSet
	staging    st.StagingArea
	logger     st.Logger
	listeners  []st.ExpulsionListener

	// adjusters is indexed by [wasExpelled][nowExpelled].
	adjusters [2][2]Adjuster
}

var _ st.Expulsion = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator.
func NewCoordinator(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = st.NewNopLogger()
	}

	stores := deps.Stores
	resets := txn.NewSet("collector-reset", func(t *txn.Trans, sidxs []st.SIndex) error {
		for _, sidx := range sidxs {
			if err := stores.ResetReplicationFilters(sidx, t); err != nil {
				return err
			}
			logger.Debug("collector filters reset", "sidx", sidx)
		}
		return nil
	})

	c := &Coordinator{
		dir:        deps.Directory,
		exclusions: deps.Exclusions,
		staging:    deps.Staging,
		logger:     logger,
	}
	c.adjusters[0][0] = &admittedToAdmitted{dir: deps.Directory, ps: deps.Physical, staging: deps.Staging}
	c.adjusters[0][1] = &admittedToExpelled{dir: deps.Directory, staging: deps.Staging, preserveHistory: deps.PreserveHistory}
	c.adjusters[1][1] = &expelledToExpelled{staging: deps.Staging}
	c.adjusters[1][0] = &expelledToAdmitted{
		dir:      deps.Directory,
		ps:       deps.Physical,
		staging:  deps.Staging,
		versions: deps.Versions,
		queue:    deps.Queue,
		stores:   deps.Stores,
		resets:   resets,
	}
	return c
}

// AddListener registers l to hear about anchors that become expelled.
func (c *Coordinator) AddListener(l st.ExpulsionListener) {
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) adjuster(was, now bool) Adjuster {
	return c.adjusters[b2i(was)][b2i(now)]
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsExpelled reports whether any object along path is expelled on its
// own. Objects that no longer exist are skipped.
func (c *Coordinator) IsExpelled(path st.ResolvedPath) (bool, error) {
	for _, soid := range path.SOIDs {
		o, err := c.dir.Get(soid)
		if err != nil {
			return false, err
		}
		if o != nil && o.Expelled {
			return true, nil
		}
	}
	return false, nil
}

// SetExpelled changes the object's own flag. Setting the flag it already
// has does nothing.
func (c *Coordinator) SetExpelled(expelled bool, soid st.SOID, t *txn.Trans) error {
	if soid.IsRoot() {
		return st.ErrRootExpulsion
	}
	o, err := getObject(c.dir, soid)
	if err != nil {
		return err
	}
	if !o.IsExpellable() {
		return fmt.Errorf("%s is a %s: %w", soid, o.Type, st.ErrNotExpellable)
	}
	if o.Expelled == expelled {
		return nil
	}

	path, err := c.dir.Resolve(soid)
	if err != nil {
		return err
	}
	parentExpelled, err := c.IsExpelled(path.Parent())
	if err != nil {
		return err
	}
	was := parentExpelled || o.Expelled
	now := parentExpelled || expelled

	if expelled {
		err = c.exclusions.Add(soid, t)
	} else {
		err = c.exclusions.Remove(soid, t)
	}
	if err != nil {
		return err
	}
	if err := c.dir.SetExpelled(soid, expelled, t); err != nil {
		return err
	}

	c.logger.Info("expulsion changed", "soid", soid, "path", path.String(), "expelled", expelled, "was", was, "now", now)
	if was == now {
		return nil
	}
	if err := c.adjuster(was, now).Adjust(path, soid, st.PhysicalApply, t); err != nil {
		return err
	}
	if now {
		return c.notifyAnchors(o, path, t)
	}
	return nil
}

// ObjectMoved reacts to soid having moved away from oldPath.
func (c *Coordinator) ObjectMoved(oldPath st.ResolvedPath, soid st.SOID, op st.PhysicalOp, t *txn.Trans) error {
	newPath, err := c.dir.Resolve(soid)
	if err != nil {
		return err
	}
	was, err := c.IsExpelled(oldPath)
	if err != nil {
		return err
	}
	now, err := c.IsExpelled(newPath)
	if err != nil {
		return err
	}

	c.logger.Debug("object moved", "soid", soid, "from", oldPath.String(), "to", newPath.String(), "was", was, "now", now)
	if err := c.adjuster(was, now).Adjust(oldPath, soid, op, t); err != nil {
		return err
	}
	if now && !was {
		o, err := getObject(c.dir, soid)
		if err != nil {
			return err
		}
		return c.notifyAnchors(o, newPath, t)
	}
	return nil
}

// ObjectAliased transfers exclusion membership of alias to target and
// lets the staging area do the same for its entries. No flags change.
func (c *Coordinator) ObjectAliased(alias st.SOID, target *st.SOID, t *txn.Trans) error {
	excluded, err := c.exclusions.Contains(alias)
	if err != nil {
		return err
	}
	if excluded {
		if err := c.exclusions.Remove(alias, t); err != nil {
			return err
		}
		if target != nil {
			if err := c.exclusions.Add(*target, t); err != nil {
				return err
			}
		}
	}
	return c.staging.ObjectAliased(alias, target, t)
}

// ListExcludedObjects returns the objects the user excluded. Trash
// folders are excluded by construction and not listed.
func (c *Coordinator) ListExcludedObjects() ([]st.SOID, error) {
	all, err := c.exclusions.List()
	if err != nil {
		return nil, err
	}
	out := make([]st.SOID, 0, len(all))
	for _, soid := range all {
		if !soid.IsTrash() {
			out = append(out, soid)
		}
	}
	return out, nil
}

// notifyAnchors tells listeners about every anchor that just became
// expelled: o itself or any anchor below it. Subtrees that were already
// expelled on their own, and stores mounted below an anchor, are not
// revisited.
func (c *Coordinator) notifyAnchors(o *st.Object, path st.ResolvedPath, t *txn.Trans) error {
	if len(c.listeners) == 0 {
		return nil
	}
	return st.Walk(c.dir, o, path, func(_ st.ResolvedPath, n *st.Object) (bool, error) {
		if n.SOID != o.SOID && n.Expelled {
			return false, nil
		}
		if n.Type != st.Anchor {
			return n.Type == st.Folder, nil
		}
		for _, l := range c.listeners {
			if err := l.AnchorExpelled(n.SOID, n.ChildSidx, t); err != nil {
				return false, err
			}
		}
		return false, nil
	}, nil)
}
