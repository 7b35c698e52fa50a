// Package staging defers the physical cleanup of expelled subtrees. An
// expelled folder is recorded as a staged entry in the same transaction
// that expelled it; its files and folders are scrubbed later, one object
// per transaction, so a failure part way through resumes where it left
// off.
package staging

import (
	"cmp"
	"fmt"
	"slices"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// Deps are the collaborators an Area works with.
type Deps struct {
	TxManager *txn.Manager
	Directory st.Directory
	Physical  st.PhysicalStorage
	Versions  st.VersionControl
	Stores    st.StoreLifecycle
	Logger    st.Logger
}

// Area implements st.StagingArea on top of a pluggable stagingStore. An
// Area is not safe for concurrent use; callers run it on one executor.
type Area struct {
	store    stagingStore
	tm       *txn.Manager
	dir      st.Directory
	ps       st.PhysicalStorage
	versions st.VersionControl
	stores   st.StoreLifecycle
	logger   st.Logger

	cursor int64 // Seq of the entry processed last
}

var _ st.StagingArea = (*Area)(nil)

// NewSQLiteStagingArea creates an Area whose entries live in the metadata
// database managed by deps.TxManager.
func NewSQLiteStagingArea(deps Deps) *Area {
	return newArea(newSQLiteStore(deps.TxManager), deps)
}

// NewMemoryStagingArea creates an Area whose entries are kept in memory.
// Entries do not survive a restart.
func NewMemoryStagingArea(deps Deps) *Area {
	return newArea(newMemoryStore(), deps)
}

func newArea(store stagingStore, deps Deps) *Area {
	logger := deps.Logger
	if logger == nil {
		logger = st.NewNopLogger()
	}
	return &Area{
		store:    store,
		tm:       deps.TxManager,
		dir:      deps.Directory,
		ps:       deps.Physical,
		versions: deps.Versions,
		stores:   deps.Stores,
		logger:   logger,
	}
}

// StageCleanup schedules the removal of an object that just became
// expelled. Files and anchors have no subtree of their own to walk and
// are cleaned on the spot, as are empty folders.
func (a *Area) StageCleanup(soid st.SOID, path st.ResolvedPath, preserveHistory bool, t *txn.Trans) error {
	o, err := a.dir.Get(soid)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("staging %s: %w", soid, st.ErrNotFound)
	}

	if o.Type != st.Folder {
		return a.cleanObject(o, path, historyPath(preserveHistory, path), t)
	}

	children, err := a.dir.Children(soid)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		if err := a.dir.ClearPhysicalIdentity(soid, t); err != nil {
			return err
		}
		return a.ps.NewFolder(path).Remove(t)
	}

	existing, err := a.store.Get(soid)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := a.store.Remove(soid, t); err != nil {
			return err
		}
	}
	e := &st.StagedEntry{SOID: soid, Path: path, PreserveHistory: preserveHistory}
	if err := a.store.Add(e, t); err != nil {
		return err
	}
	a.logger.Debug("staged for cleanup", "soid", soid, "path", path.String(), "preserve_history", preserveHistory)
	return nil
}

// PreserveStaging is called after the object at oldPath moved. Entries
// are keyed by object, so an object with an entry of its own needs
// nothing. An object that was only covered by an ancestor's entry gets an
// entry of its own if the move took it out of that ancestor.
func (a *Area) PreserveStaging(oldPath st.ResolvedPath, t *txn.Trans) error {
	if oldPath.IsEmpty() {
		return nil
	}
	soid := oldPath.SOID()

	own, err := a.store.Get(soid)
	if err != nil {
		return err
	}
	if own != nil {
		return nil
	}

	var anc *st.StagedEntry
	for i := len(oldPath.SOIDs) - 2; i >= 0 && anc == nil; i-- {
		if anc, err = a.store.Get(oldPath.SOIDs[i]); err != nil {
			return err
		}
	}
	if anc == nil {
		return nil
	}

	newPath, err := a.dir.Resolve(soid)
	if err != nil {
		return err
	}
	if newPath.Contains(anc.SOID) {
		return nil
	}
	return a.StageCleanup(soid, oldPath, anc.PreserveHistory, t)
}

// ObjectAliased hands the entry of alias over to target. If target
// already has an entry of its own, or there is no target, the alias
// entry stays so its leftovers are still cleaned.
func (a *Area) ObjectAliased(alias st.SOID, target *st.SOID, t *txn.Trans) error {
	e, err := a.store.Get(alias)
	if err != nil || e == nil || target == nil {
		return err
	}
	existing, err := a.store.Get(*target)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if err := a.store.Remove(alias, t); err != nil {
		return err
	}
	return a.store.Add(&st.StagedEntry{SOID: *target, Path: e.Path, PreserveHistory: e.PreserveHistory}, t)
}

// EndStaging drops the entry of an object that was admitted again at
// path. Leftovers at a different historical location are scrubbed first.
func (a *Area) EndStaging(soid st.SOID, path st.ResolvedPath, t *txn.Trans) error {
	e, err := a.store.Get(soid)
	if err != nil || e == nil {
		return err
	}

	if !e.Path.SameLocation(path) {
		done, err := a.store.IsCleaned(soid, soid.OID)
		if err != nil {
			return err
		}
		if !done {
			hp := historyPath(e.PreserveHistory, e.Path)
			if err := a.ps.NewFolder(e.Path).Scrub(soid, hp, st.ScrubRemnant, t); err != nil {
				return err
			}
		}
	}
	return a.store.Remove(soid, t)
}

// EnsureClean makes sure nothing staged is left at or below path before
// something else is put there. Entries located at or below path are
// cleaned completely and dropped. Of an entry covering path from above,
// only the part below path is cleaned; the entry stays for the rest.
func (a *Area) EnsureClean(path st.ResolvedPath, t *txn.Trans) error {
	if !path.IsEmpty() {
		// An object re-admitted somewhere else than where it was staged
		// must not leave its old location behind.
		own, err := a.store.Get(path.SOID())
		if err != nil {
			return err
		}
		if own != nil && !own.Path.SameLocation(path) {
			if err := a.cleanEntry(own, own.Path, t); err != nil {
				return err
			}
		}
	}

	entries, err := a.store.List()
	if err != nil {
		return err
	}
	var covering *st.StagedEntry
	var inside []*st.StagedEntry
	preserve := false
	for _, e := range entries {
		switch {
		case e.Path.IsUnderOrEqual(path):
			inside = append(inside, e)
			preserve = preserve || e.PreserveHistory
		case path.IsUnderOrEqual(e.Path):
			if covering == nil || len(e.Path.Names) > len(covering.Path.Names) {
				covering = e
			}
		}
	}
	if covering == nil && len(inside) == 0 {
		return nil
	}

	// Deepest first, so every object is preserved under its own entry.
	slices.SortStableFunc(inside, func(x, y *st.StagedEntry) int {
		return cmp.Compare(len(y.Path.Names), len(x.Path.Names))
	})
	for _, e := range inside {
		if err := a.cleanEntry(e, e.Path, t); err != nil {
			return fmt.Errorf("cleaning %s at %s: %w", e.SOID, e.Path, err)
		}
		if err := a.store.Remove(e.SOID, t); err != nil {
			return err
		}
		a.logger.Debug("staged entry cleaned for reuse", "soid", e.SOID, "path", e.Path.String())
	}
	if covering != nil {
		if err := a.cleanEntry(covering, path, t); err != nil {
			return err
		}
		preserve = preserve || covering.PreserveHistory
	}
	return a.ps.NewFolder(path).Scrub(path.SOID(), historyPath(preserve, path), st.ScrubRemnant, t)
}

// EnsureStoreClean drains every entry of store sidx inside t and then
// lets the store lifecycle delete the store's metadata.
func (a *Area) EnsureStoreClean(sidx st.SIndex, t *txn.Trans) error {
	entries, err := a.store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.SOID.Sidx != sidx {
			continue
		}
		if err := a.cleanEntry(e, e.Path, t); err != nil {
			return fmt.Errorf("cleaning %s for teardown of store %d: %w", e.SOID, sidx, err)
		}
		if err := a.store.Remove(e.SOID, t); err != nil {
			return err
		}
	}
	return a.stores.RunDeferredTeardown(sidx, t)
}

// Entries returns all staged entries in staging order.
func (a *Area) Entries() ([]*st.StagedEntry, error) {
	return a.store.List()
}

// covering returns the entry whose path is the longest prefix of path.
func (a *Area) covering(path st.ResolvedPath) (*st.StagedEntry, error) {
	entries, err := a.store.List()
	if err != nil {
		return nil, err
	}
	var best *st.StagedEntry
	for _, e := range entries {
		if !path.IsUnderOrEqual(e.Path) {
			continue
		}
		if best == nil || len(e.Path.Names) > len(best.Path.Names) {
			best = e
		}
	}
	return best, nil
}

func historyPath(preserve bool, path st.ResolvedPath) string {
	if !preserve {
		return ""
	}
	return path.String()
}
