package st

import (
	"fmt"
	"io"
	"strings"

	"st-go/internal/txn"
)

// Transactor runs fn inside a transaction, committing when fn succeeds.
type Transactor interface {
	Run(fn func(t *txn.Trans) error) error
}

// ServiceDeps are the components STService orchestrates.
type ServiceDeps struct {
	TxManager  Transactor
	Directory  Directory
	Expulsion  Expulsion
	Staging    StagingArea
	Physical   PhysicalStorage
	Versions   VersionControl
	Stores     StoreRegistry
	Vault      HistoryVault
	Operations OperationLog
	Logger     Logger
	IDs        IDGenerator
}

// STService is the orchestration layer that drives the materialization
// subsystem through the local operations needed by the CLI. Paths are
// slash separated and relative to the root store; they cross into child
// stores through anchors.
type STService struct {
	tm        Transactor
	dir       Directory
	expulsion Expulsion
	staging   StagingArea
	physical  PhysicalStorage
	versions  VersionControl
	stores    StoreRegistry
	vault     HistoryVault
	ops       OperationLog
	logger    Logger
	idgen     IDGenerator
}

// NewSTService creates a new STService with the provided dependencies.
func NewSTService(deps ServiceDeps) *STService {
	logger := deps.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	idgen := deps.IDs
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &STService{
		tm:        deps.TxManager,
		dir:       deps.Directory,
		expulsion: deps.Expulsion,
		staging:   deps.Staging,
		physical:  deps.Physical,
		versions:  deps.Versions,
		stores:    deps.Stores,
		vault:     deps.Vault,
		ops:       deps.Operations,
		logger:    logger,
		idgen:     idgen,
	}
}

// CreateFolder creates a folder at rel. Below an expelled folder only the
// metadata is created.
func (s *STService) CreateFolder(rel string) (SOID, error) {
	var soid SOID
	err := s.tm.Run(func(t *txn.Trans) error {
		parent, name, expelled, err := s.prepareCreate(rel)
		if err != nil {
			return err
		}
		soid = SOID{Sidx: parent.Sidx, OID: OID(s.idgen.New())}
		if err := s.dir.Create(&Object{SOID: soid, Type: Folder, Parent: parent.OID, Name: name}, t); err != nil {
			return err
		}
		if expelled {
			return nil
		}
		path, err := s.reusePath(soid, t)
		if err != nil {
			return err
		}
		fid, err := s.physical.NewFolder(path).Create(PhysicalApply, t)
		if err != nil {
			return fmt.Errorf("creating folder %s: %w", rel, err)
		}
		return s.dir.SetPhysicalIdentity(soid, fid, t)
	})
	if err != nil {
		return SOID{}, err
	}
	s.logger.Info("folder created", "path", rel, "soid", soid)
	return soid, nil
}

// CreateAnchor creates a new store named storeName and mounts it at rel.
func (s *STService) CreateAnchor(rel, storeName string) (SIndex, error) {
	var child SIndex
	err := s.tm.Run(func(t *txn.Trans) error {
		parent, name, expelled, err := s.prepareCreate(rel)
		if err != nil {
			return err
		}
		child, err = s.stores.Create(storeName, t)
		if err != nil {
			return err
		}
		soid := SOID{Sidx: parent.Sidx, OID: OID(s.idgen.New())}
		o := &Object{SOID: soid, Type: Anchor, Parent: parent.OID, Name: name, ChildSidx: child}
		if err := s.dir.Create(o, t); err != nil {
			return err
		}
		if err := s.stores.RegisterParent(child, soid, name, t); err != nil {
			return err
		}
		if expelled {
			return nil
		}

		path, err := s.reusePath(soid, t)
		if err != nil {
			return err
		}
		folder := s.physical.NewFolder(path)
		fid, err := folder.Create(PhysicalApply, t)
		if err != nil {
			return fmt.Errorf("creating anchor %s: %w", rel, err)
		}
		if err := s.dir.SetPhysicalIdentity(soid, fid, t); err != nil {
			return err
		}
		return folder.PromoteToStoreMount(child, PhysicalApply, t)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("anchor created", "path", rel, "store", storeName, "sidx", child)
	return child, nil
}

// ImportFile creates a file at rel with the content read from r.
// Importing below an expelled folder fails with ErrExpelled.
func (s *STService) ImportFile(rel string, r io.Reader) (SOID, error) {
	var soid SOID
	var size int64
	err := s.tm.Run(func(t *txn.Trans) error {
		parent, name, expelled, err := s.prepareCreate(rel)
		if err != nil {
			return err
		}
		if expelled {
			return fmt.Errorf("importing %s: %w", rel, ErrExpelled)
		}
		soid = SOID{Sidx: parent.Sidx, OID: OID(s.idgen.New())}
		if err := s.dir.Create(&Object{SOID: soid, Type: File, Parent: parent.OID, Name: name}, t); err != nil {
			return err
		}
		path, err := s.reusePath(soid, t)
		if err != nil {
			return err
		}
		size, err = s.physical.NewFile(path, MasterKIndex).Write(r, t)
		if err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
		if err := s.dir.AddBranch(soid, MasterKIndex, size, t); err != nil {
			return err
		}
		if err := s.dir.SetPhysicalIdentity(soid, s.idgen.New(), t); err != nil {
			return err
		}
		return s.versions.SetLocalVersion(soid, 1, t)
	})
	if err != nil {
		return SOID{}, err
	}
	s.logger.Info("file imported", "path", rel, "soid", soid, "size", size)
	return soid, nil
}

// Move renames the object at from to to. Both must be in the same store.
func (s *STService) Move(from, to string) error {
	err := s.tm.Run(func(t *txn.Trans) error {
		o, err := s.lookup(from)
		if err != nil {
			return err
		}
		if o.SOID.IsRoot() || o.SOID.IsTrash() {
			return fmt.Errorf("cannot move %q", from)
		}
		parent, name, _, err := s.prepareCreate(to)
		if err != nil {
			return err
		}
		if parent.Sidx != o.SOID.Sidx {
			return fmt.Errorf("moving %q to %q crosses a store boundary", from, to)
		}
		dest, err := s.dir.Resolve(parent)
		if err != nil {
			return err
		}
		if parent == o.SOID || dest.Contains(o.SOID) {
			return fmt.Errorf("cannot move %q into itself", from)
		}
		return s.move(o.SOID, parent.OID, name, t)
	})
	if err != nil {
		return err
	}
	s.logger.Info("object moved", "from", from, "to", to)
	return nil
}

// Delete moves the object at rel into the trash of its store. Its content
// is kept as history once cleaned up.
func (s *STService) Delete(rel string) error {
	err := s.tm.Run(func(t *txn.Trans) error {
		o, err := s.lookup(rel)
		if err != nil {
			return err
		}
		if o.SOID.IsRoot() || o.SOID.IsTrash() {
			return fmt.Errorf("cannot delete %q", rel)
		}
		return s.move(o.SOID, TrashOID, string(o.SOID.OID), t)
	})
	if err != nil {
		return err
	}
	s.logger.Info("object deleted", "path", rel)
	return nil
}

func (s *STService) move(soid SOID, parent OID, name string, t *txn.Trans) error {
	oldPath, err := s.dir.Resolve(soid)
	if err != nil {
		return err
	}
	if err := s.dir.Move(soid, parent, name, t); err != nil {
		return err
	}
	return s.expulsion.ObjectMoved(oldPath, soid, PhysicalApply, t)
}

// Exclude expels the folder or anchor at rel.
func (s *STService) Exclude(rel string) error {
	return s.setExpelled(rel, true)
}

// Include admits the folder or anchor at rel again.
func (s *STService) Include(rel string) error {
	return s.setExpelled(rel, false)
}

func (s *STService) setExpelled(rel string, expelled bool) error {
	return s.tm.Run(func(t *txn.Trans) error {
		o, err := s.lookup(rel)
		if err != nil {
			return err
		}
		return s.expulsion.SetExpelled(expelled, o.SOID, t)
	})
}

// ListExcluded returns the current paths of the objects the user excluded.
func (s *STService) ListExcluded() ([]string, error) {
	soids, err := s.expulsion.ListExcludedObjects()
	if err != nil {
		return nil, fmt.Errorf("listing excluded objects: %w", err)
	}
	paths := make([]string, 0, len(soids))
	for _, soid := range soids {
		p, err := s.dir.Resolve(soid)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", soid, err)
		}
		paths = append(paths, p.String())
	}
	return paths, nil
}

// Drain gives every staged entry one pass, processing at most limit
// entries when limit is positive. Objects whose cleanup fails stay staged
// for the next drain. Returns the number of entries processed.
func (s *STService) Drain(limit int) (int, error) {
	entries, err := s.staging.Entries()
	if err != nil {
		return 0, fmt.Errorf("listing staged entries: %w", err)
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	count := 0
	for count < limit {
		more, err := s.staging.Process()
		if err != nil {
			return count, fmt.Errorf("draining staging area: %w", err)
		}
		count++
		if !more {
			break
		}
	}
	s.logger.Info("drain complete", "processed", count)
	return count, nil
}

// StagedEntries lists the subtrees still waiting for cleanup.
func (s *STService) StagedEntries() ([]*StagedEntry, error) {
	return s.staging.Entries()
}

// TearDownStores cleans up and deletes every store pending teardown.
// Returns the stores torn down.
func (s *STService) TearDownStores() ([]SIndex, error) {
	var done []SIndex
	// Tearing down a store may mark the stores mounted inside it.
	for {
		pending, err := s.stores.PendingTeardown()
		if err != nil {
			return done, fmt.Errorf("listing pending teardowns: %w", err)
		}
		if len(pending) == 0 {
			return done, nil
		}
		for _, sidx := range pending {
			err := s.tm.Run(func(t *txn.Trans) error {
				return s.staging.EnsureStoreClean(sidx, t)
			})
			if err != nil {
				return done, fmt.Errorf("tearing down store %d: %w", sidx, err)
			}
			done = append(done, sidx)
		}
	}
}

// reusePath resolves the location of a newly created object and clears
// whatever staged cleanup left there.
func (s *STService) reusePath(soid SOID, t *txn.Trans) (ResolvedPath, error) {
	path, err := s.dir.Resolve(soid)
	if err != nil {
		return ResolvedPath{}, err
	}
	if err := s.staging.EnsureClean(path, t); err != nil {
		return ResolvedPath{}, fmt.Errorf("clearing %s: %w", path, err)
	}
	return path, nil
}

// lookup finds the object at rel. The empty path is the root folder.
func (s *STService) lookup(rel string) (*Object, error) {
	o, err := s.dir.Get(SOID{Sidx: RootSIndex, OID: RootOID})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("root store: %w", ErrNotFound)
	}
	for _, name := range SplitPath(rel) {
		c, ok := container(o)
		if !ok {
			return nil, fmt.Errorf("%q: %w", rel, ErrNotFound)
		}
		o, err = s.dir.ChildByName(c.Sidx, c.OID, name)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, fmt.Errorf("%q: %w", rel, ErrNotFound)
		}
	}
	return o, nil
}

// prepareCreate finds the folder a new object at rel goes into and checks
// that the name is free. expelled reports whether that folder is expelled.
func (s *STService) prepareCreate(rel string) (parent SOID, name string, expelled bool, err error) {
	names := SplitPath(rel)
	if len(names) == 0 {
		return SOID{}, "", false, fmt.Errorf("path is empty")
	}
	name = names[len(names)-1]

	po, err := s.lookup(strings.Join(names[:len(names)-1], "/"))
	if err != nil {
		return SOID{}, "", false, err
	}
	parent, ok := container(po)
	if !ok {
		return SOID{}, "", false, fmt.Errorf("parent of %q is a file", rel)
	}
	existing, err := s.dir.ChildByName(parent.Sidx, parent.OID, name)
	if err != nil {
		return SOID{}, "", false, err
	}
	if existing != nil {
		return SOID{}, "", false, fmt.Errorf("%q: %w", rel, ErrExists)
	}

	path, err := s.dir.Resolve(parent)
	if err != nil {
		return SOID{}, "", false, err
	}
	expelled, err = s.expulsion.IsExpelled(path)
	if err != nil {
		return SOID{}, "", false, err
	}
	return parent, name, expelled, nil
}

// container returns the folder that holds the children of o.
func container(o *Object) (SOID, bool) {
	switch o.Type {
	case Folder:
		return o.SOID, true
	case Anchor:
		return SOID{Sidx: o.ChildSidx, OID: RootOID}, true
	default:
		return SOID{}, false
	}
}
