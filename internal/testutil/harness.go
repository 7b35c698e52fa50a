package testutil

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"st-go/internal/database"
	"st-go/internal/expulsion"
	"st-go/internal/physical"
	"st-go/internal/st"
	"st-go/internal/staging"
	"st-go/internal/stores"
	"st-go/internal/txn"
	"st-go/internal/vault"
)

const (
	// HarnessRoot is where the harness materializes the root store.
	HarnessRoot = "/st/root"
	harnessAux  = "/st/aux"
)

// HarnessOptions configures NewHarness.
type HarnessOptions struct {
	// PreserveHistory keeps history of everything expelled.
	PreserveHistory bool
	// MemoryStaging uses the in-memory staging store instead of SQLite.
	MemoryStaging bool
}

// Harness wires the materialization components together on an in-memory
// database and an in-memory filesystem, with the root store created.
type Harness struct {
	DB         *database.SQLiteDatabase
	TM         *txn.Manager
	Dir        *database.Directory
	Exclusions *database.ExclusionSet
	Versions   *database.Versions
	Fetch      *database.FetchQueue
	Stores     *stores.Registry
	Fs         afero.Fs
	Storage    *physical.Storage
	Physical   *RecordingStorage
	Vault      *vault.MemoryVault
	Staging    *staging.Area
	Expulsion  *expulsion.Coordinator
	IDs        *StubIDGenerator
	Clock      *StubClock
}

// NewHarness builds a Harness. Everything is released when the test ends.
func NewHarness(t testing.TB, opts HarnessOptions) *Harness {
	t.Helper()

	db := NewTestDatabase(t)
	clock := FixedClock()
	ids := NewStubIDGenerator()
	logger := st.NewNopLogger()
	fs := afero.NewMemMapFs()
	v := NewTestVault()

	storage, err := physical.NewStorage(fs, physical.Options{
		Root:   HarnessRoot,
		AuxDir: harnessAux,
		Vault:  v,
		IDGen:  ids,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	h := &Harness{
		DB:         db,
		TM:         db.TxManager(),
		Dir:        db.Directory(),
		Exclusions: db.Exclusions(),
		Versions:   db.Versions(),
		Fetch:      db.FetchQueue(),
		Stores:     stores.NewRegistry(db.TxManager(), clock, logger),
		Fs:         fs,
		Storage:    storage,
		Physical:   NewRecordingStorage(storage),
		Vault:      v,
		IDs:        ids,
		Clock:      clock,
	}

	deps := staging.Deps{
		TxManager: h.TM,
		Directory: h.Dir,
		Physical:  h.Physical,
		Versions:  h.Versions,
		Stores:    h.Stores,
		Logger:    logger,
	}
	if opts.MemoryStaging {
		h.Staging = staging.NewMemoryStagingArea(deps)
	} else {
		h.Staging = staging.NewSQLiteStagingArea(deps)
	}

	h.Expulsion = expulsion.NewCoordinator(expulsion.Deps{
		Directory:       h.Dir,
		Exclusions:      h.Exclusions,
		Staging:         h.Staging,
		Physical:        h.Physical,
		Versions:        h.Versions,
		Queue:           h.Fetch,
		Stores:          h.Stores,
		Logger:          logger,
		PreserveHistory: opts.PreserveHistory,
	})
	h.Expulsion.AddListener(h.Stores)

	h.Run(t, func(tx *txn.Trans) error {
		return h.Stores.CreateWithIndex(st.RootSIndex, "root", tx)
	})
	return h
}

// Run executes fn in a transaction and fails the test if it returns an error.
func (h *Harness) Run(t testing.TB, fn func(tx *txn.Trans) error) {
	t.Helper()
	if err := h.TM.Run(fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// Root returns the root folder of the root store.
func (h *Harness) Root() st.SOID {
	return st.SOID{Sidx: st.RootSIndex, OID: st.RootOID}
}

// MkFolder creates a materialized folder below parent.
func (h *Harness) MkFolder(t testing.TB, parent st.SOID, name string) st.SOID {
	t.Helper()
	soid := st.SOID{Sidx: parent.Sidx, OID: st.OID(h.IDs.New())}
	h.Run(t, func(tx *txn.Trans) error {
		if err := h.Dir.Create(&st.Object{SOID: soid, Type: st.Folder, Parent: parent.OID, Name: name}, tx); err != nil {
			return err
		}
		p, err := h.Dir.Resolve(soid)
		if err != nil {
			return err
		}
		fid, err := h.Storage.NewFolder(p).Create(st.PhysicalApply, tx)
		if err != nil {
			return err
		}
		return h.Dir.SetPhysicalIdentity(soid, fid, tx)
	})
	return soid
}

// MkFile creates a materialized file with content as its master branch.
func (h *Harness) MkFile(t testing.TB, parent st.SOID, name, content string) st.SOID {
	t.Helper()
	soid := st.SOID{Sidx: parent.Sidx, OID: st.OID(h.IDs.New())}
	h.Run(t, func(tx *txn.Trans) error {
		if err := h.Dir.Create(&st.Object{SOID: soid, Type: st.File, Parent: parent.OID, Name: name}, tx); err != nil {
			return err
		}
		p, err := h.Dir.Resolve(soid)
		if err != nil {
			return err
		}
		n, err := h.Storage.NewFile(p, st.MasterKIndex).Write(strings.NewReader(content), tx)
		if err != nil {
			return err
		}
		if err := h.Dir.AddBranch(soid, st.MasterKIndex, n, tx); err != nil {
			return err
		}
		if err := h.Dir.SetPhysicalIdentity(soid, h.IDs.New(), tx); err != nil {
			return err
		}
		return h.Versions.SetLocalVersion(soid, 1, tx)
	})
	return soid
}

// MkAnchor creates a materialized anchor below parent mounting a new store
// with index child.
func (h *Harness) MkAnchor(t testing.TB, parent st.SOID, name string, child st.SIndex) st.SOID {
	t.Helper()
	soid := st.SOID{Sidx: parent.Sidx, OID: st.OID(h.IDs.New())}
	h.Run(t, func(tx *txn.Trans) error {
		o := &st.Object{SOID: soid, Type: st.Anchor, Parent: parent.OID, Name: name, ChildSidx: child}
		if err := h.Dir.Create(o, tx); err != nil {
			return err
		}
		if err := h.Stores.RegisterParent(child, soid, name, tx); err != nil {
			return err
		}
		p, err := h.Dir.Resolve(soid)
		if err != nil {
			return err
		}
		folder := h.Storage.NewFolder(p)
		fid, err := folder.Create(st.PhysicalApply, tx)
		if err != nil {
			return err
		}
		if err := h.Dir.SetPhysicalIdentity(soid, fid, tx); err != nil {
			return err
		}
		return folder.PromoteToStoreMount(child, st.PhysicalApply, tx)
	})
	return soid
}

// Path resolves soid.
func (h *Harness) Path(t testing.TB, soid st.SOID) st.ResolvedPath {
	t.Helper()
	p, err := h.Dir.Resolve(soid)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", soid, err)
	}
	return p
}

// Object returns the metadata of soid, or nil.
func (h *Harness) Object(t testing.TB, soid st.SOID) *st.Object {
	t.Helper()
	o, err := h.Dir.Get(soid)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", soid, err)
	}
	return o
}

// Exists reports whether rel, a slash separated path below the root,
// exists on the filesystem.
func (h *Harness) Exists(t testing.TB, rel string) bool {
	t.Helper()
	ok, err := afero.Exists(h.Fs, h.location(rel))
	if err != nil {
		t.Fatalf("Exists(%s) error = %v", rel, err)
	}
	return ok
}

// ReadFile returns the content of rel below the root.
func (h *Harness) ReadFile(t testing.TB, rel string) string {
	t.Helper()
	f, err := h.Fs.Open(h.location(rel))
	if err != nil {
		t.Fatalf("opening %s: %v", rel, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func (h *Harness) location(rel string) string {
	return filepath.Join(append([]string{HarnessRoot}, st.SplitPath(rel)...)...)
}

// SetExpelled changes the expulsion flag of soid in its own transaction.
func (h *Harness) SetExpelled(t testing.TB, soid st.SOID, expelled bool) {
	t.Helper()
	h.Run(t, func(tx *txn.Trans) error {
		return h.Expulsion.SetExpelled(expelled, soid, tx)
	})
}

// Move renames soid to name below parent and lets the coordinator react.
func (h *Harness) Move(t testing.TB, soid, parent st.SOID, name string) {
	t.Helper()
	h.Run(t, func(tx *txn.Trans) error {
		oldPath, err := h.Dir.Resolve(soid)
		if err != nil {
			return err
		}
		if err := h.Dir.Move(soid, parent.OID, name, tx); err != nil {
			return err
		}
		return h.Expulsion.ObjectMoved(oldPath, soid, st.PhysicalApply, tx)
	})
}

// Drain calls Process until nothing remains, failing the test if that
// takes more than limit calls.
func (h *Harness) Drain(t testing.TB, limit int) {
	t.Helper()
	for i := 0; i < limit; i++ {
		more, err := h.Staging.Process()
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if !more {
			return
		}
	}
	t.Fatalf("staging not drained after %d calls", limit)
}

// Entries returns the staged entries.
func (h *Harness) Entries(t testing.TB) []*st.StagedEntry {
	t.Helper()
	entries, err := h.Staging.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	return entries
}
