package staging

import (
	"fmt"
	"slices"
	"strings"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// Process drains one staged entry, round robin, and reports whether any
// entries remain. Every object is cleaned in a transaction of its own; an
// object whose cleanup fails is retried on a later call, and its
// ancestors wait for it.
func (a *Area) Process() (bool, error) {
	if a.tm.InTransaction() {
		return false, st.ErrTransactionActive
	}

	e, err := a.nextEntry()
	if err != nil || e == nil {
		return false, err
	}
	if err := a.drain(e); err != nil {
		return true, fmt.Errorf("draining %s: %w", e.SOID, err)
	}

	next, err := a.store.Next(0)
	if err != nil {
		return false, err
	}
	return next != nil, nil
}

func (a *Area) nextEntry() (*st.StagedEntry, error) {
	e, err := a.store.Next(a.cursor)
	if err != nil {
		return nil, err
	}
	if e == nil && a.cursor != 0 {
		if e, err = a.store.Next(0); err != nil {
			return nil, err
		}
	}
	if e != nil {
		a.cursor = e.Seq
	}
	return e, nil
}

func (a *Area) drain(e *st.StagedEntry) error {
	o, err := a.entryObject(e)
	if err != nil {
		return err
	}

	if o == nil {
		err := a.tm.Run(func(t *txn.Trans) error {
			hp := degradedHistoryPath(e, e.Path)
			if err := a.ps.NewFolder(e.Path).Scrub(e.SOID, hp, st.ScrubTeardown, t); err != nil {
				return err
			}
			return a.store.Remove(e.SOID, t)
		})
		if err != nil {
			a.logger.Warn("cleanup of orphaned entry failed, will retry", "soid", e.SOID, "path", e.Path.String(), "error", err)
		}
		return nil
	}

	blocked := make(map[st.SOID]bool)
	block := func(p st.ResolvedPath) {
		if len(p.SOIDs) > 1 {
			blocked[p.SOIDs[len(p.SOIDs)-2]] = true
		}
	}
	failed := false

	err = st.Walk(a.dir, o, e.Path, func(_ st.ResolvedPath, n *st.Object) (bool, error) {
		return n.Type == st.Folder, nil
	}, func(p st.ResolvedPath, n *st.Object) error {
		if blocked[n.SOID] {
			block(p)
			return nil
		}
		done, err := a.store.IsCleaned(e.SOID, n.SOID.OID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		err = a.tm.Run(func(t *txn.Trans) error {
			return a.cleanNode(e, n, p, t)
		})
		if err != nil {
			a.logger.Warn("cleanup failed, will retry", "entry", e.SOID, "soid", n.SOID, "path", p.String(), "error", err)
			failed = true
			block(p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed {
		return nil
	}

	if err := a.tm.Run(func(t *txn.Trans) error { return a.store.Remove(e.SOID, t) }); err != nil {
		return err
	}
	a.logger.Info("staged cleanup finished", "soid", e.SOID, "path", e.Path.String())
	return nil
}

// entryObject returns the object an entry was staged for, or nil when its
// store or the object itself no longer has metadata. Such entries are
// cleaned in degraded mode.
func (a *Area) entryObject(e *st.StagedEntry) (*st.Object, error) {
	exists, err := a.stores.Exists(e.SOID.Sidx)
	if err != nil || !exists {
		return nil, err
	}
	return a.dir.Get(e.SOID)
}

// cleanEntry cleans, inside t, every not yet cleaned object of e's
// subtree located at or below limit.
func (a *Area) cleanEntry(e *st.StagedEntry, limit st.ResolvedPath, t *txn.Trans) error {
	o, err := a.entryObject(e)
	if err != nil {
		return err
	}
	if o == nil {
		return a.ps.NewFolder(limit).Scrub(e.SOID, degradedHistoryPath(e, limit), st.ScrubTeardown, t)
	}

	return st.Walk(a.dir, o, e.Path, func(p st.ResolvedPath, n *st.Object) (bool, error) {
		related := p.IsUnderOrEqual(limit) || limit.IsUnderOrEqual(p)
		return n.Type == st.Folder && related, nil
	}, func(p st.ResolvedPath, n *st.Object) error {
		if !p.IsUnderOrEqual(limit) {
			return nil
		}
		return a.cleanNode(e, n, p, t)
	})
}

func (a *Area) cleanNode(e *st.StagedEntry, n *st.Object, p st.ResolvedPath, t *txn.Trans) error {
	done, err := a.store.IsCleaned(e.SOID, n.SOID.OID)
	if err != nil || done {
		return err
	}
	if err := a.cleanObject(n, p, historyPath(e.PreserveHistory, p), t); err != nil {
		return err
	}
	return a.store.MarkCleaned(e.SOID, n.SOID.OID, t)
}

// cleanObject scrubs the artifacts of o at path and forgets everything
// the metadata knew about its local content.
func (a *Area) cleanObject(o *st.Object, path st.ResolvedPath, hp string, t *txn.Trans) error {
	switch o.Type {
	case st.File:
		kidxs := []st.KIndex{st.MasterKIndex}
		for _, k := range o.Branches {
			if k != st.MasterKIndex {
				kidxs = append(kidxs, k)
			}
		}
		for _, k := range kidxs {
			if err := a.ps.NewFile(path, k).Scrub(o.SOID, branchHistoryPath(hp, k), st.ScrubExpelled, t); err != nil {
				return fmt.Errorf("scrubbing branch %d of %s: %w", k, o.SOID, err)
			}
		}
		if err := a.ps.DeletePrefix(o.SOID, t); err != nil {
			return err
		}
	default:
		if err := a.ps.NewFolder(path).Scrub(o.SOID, hp, st.ScrubExpelled, t); err != nil {
			return fmt.Errorf("scrubbing %s: %w", o.SOID, err)
		}
	}

	if err := a.dir.ClearPhysicalIdentity(o.SOID, t); err != nil {
		return err
	}
	if o.Type != st.File {
		return nil
	}
	if err := a.versions.ClearVersion(o.SOID, t); err != nil {
		return err
	}
	if err := a.dir.DeleteBranches(o.SOID, t); err != nil {
		return err
	}
	return a.versions.DeleteAllPendingDownloadVersions(o.SOID, t)
}

// branchHistoryPath keeps conflict branches apart from the master branch
// in the history vault.
func branchHistoryPath(hp string, kidx st.KIndex) string {
	if hp == "" || kidx == st.MasterKIndex {
		return hp
	}
	return fmt.Sprintf("%s (conflict %d)", hp, kidx)
}

// degradedHistoryPath places the history of an entry whose store is gone
// directly below the mount point of that store.
func degradedHistoryPath(e *st.StagedEntry, at st.ResolvedPath) string {
	if !e.PreserveHistory {
		return ""
	}
	names := slices.Clone(e.Path.StoreRoot(e.SOID.Sidx).Names)
	names = append(names, e.Path.Last())
	names = append(names, at.Rel(e.Path)...)
	return strings.Join(names, "/")
}
