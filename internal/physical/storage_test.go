package physical

import (
	"bytes"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"

	"st-go/internal/st"
	"st-go/internal/txn"
	"st-go/internal/vault"
)

const (
	testRoot = "/st/root"
	testAux  = "/st/aux"
)

type fixture struct {
	fs      afero.Fs
	storage *Storage
	vault   *vault.MemoryVault
	tm      *txn.Manager
}

func newFixture(t *testing.T, ignore ...string) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	fs := afero.NewMemMapFs()
	v := vault.NewMemoryVault("history")
	s, err := NewStorage(fs, Options{Root: testRoot, AuxDir: testAux, HistoryIgnore: ignore, Vault: v})
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	return &fixture{fs: fs, storage: s, vault: v, tm: txn.NewManager(db)}
}

func (f *fixture) run(t *testing.T, fn func(tx *txn.Trans) error) {
	t.Helper()
	if err := f.tm.Run(fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	if err := afero.WriteFile(f.fs, filepath.Join(testRoot, rel), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func (f *fixture) exists(t *testing.T, rel string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, filepath.Join(testRoot, rel))
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	return ok
}

func (f *fixture) restore(t *testing.T, path string) string {
	t.Helper()
	revs, err := f.vault.ListRevisions(path)
	if err != nil {
		t.Fatalf("ListRevisions() error = %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("ListRevisions(%q) len = %d, want 1", path, len(revs))
	}
	var buf bytes.Buffer
	if err := f.vault.GetRevision(path, revs[0].ID, &buf); err != nil {
		t.Fatalf("GetRevision() error = %v", err)
	}
	return buf.String()
}

// pathOf builds a path in the root store whose object IDs equal the names.
func pathOf(rel string) st.ResolvedPath {
	p := st.NewRootPath(st.RootSIndex)
	for _, name := range st.SplitPath(rel) {
		p = p.Join(st.SOID{Sidx: st.RootSIndex, OID: st.OID(name)}, name)
	}
	return p
}

func TestNewStorage_RequiresDirs(t *testing.T) {
	if _, err := NewStorage(afero.NewMemMapFs(), Options{Root: testRoot}); err == nil {
		t.Error("NewStorage() expected error without aux_dir")
	}
	if _, err := NewStorage(afero.NewMemMapFs(), Options{AuxDir: testAux}); err == nil {
		t.Error("NewStorage() expected error without root")
	}
}

func TestFile_WriteAndScrub(t *testing.T) {
	f := newFixture(t)
	f.run(t, func(tx *txn.Trans) error {
		_, err := f.storage.NewFolder(pathOf("docs")).Create(st.PhysicalApply, tx)
		return err
	})

	file := f.storage.NewFile(pathOf("docs/a.txt"), st.MasterKIndex)
	f.run(t, func(tx *txn.Trans) error {
		n, err := file.Write(strings.NewReader("hello"), tx)
		if err == nil && n != 5 {
			t.Errorf("Write() = %d, want 5", n)
		}
		return err
	})
	if !f.exists(t, "docs/a.txt") {
		t.Fatal("docs/a.txt not materialized after Write")
	}

	f.run(t, func(tx *txn.Trans) error {
		return file.Scrub(pathOf("docs/a.txt").SOID(), "docs/a.txt", st.ScrubExpelled, tx)
	})
	if f.exists(t, "docs/a.txt") {
		t.Error("docs/a.txt still exists after Scrub")
	}
	if got := f.restore(t, "docs/a.txt"); got != "hello" {
		t.Errorf("preserved content = %q, want %q", got, "hello")
	}

	// A second scrub finds nothing and preserves nothing.
	f.run(t, func(tx *txn.Trans) error {
		return file.Scrub(pathOf("docs/a.txt").SOID(), "docs/a.txt", st.ScrubExpelled, tx)
	})
	if got := len(f.vault.Paths()); got != 1 {
		t.Errorf("vault paths = %d, want 1", got)
	}
}

func TestFile_WriteAbortRemovesContent(t *testing.T) {
	f := newFixture(t)
	file := f.storage.NewFile(pathOf("a.txt"), st.MasterKIndex)

	boom := errors.New("boom")
	err := f.tm.Run(func(tx *txn.Trans) error {
		if _, err := file.Write(strings.NewReader("hello"), tx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if f.exists(t, "a.txt") {
		t.Error("a.txt still exists after abort")
	}
}

func TestFile_ConflictBranchDoesNotMove(t *testing.T) {
	f := newFixture(t)
	branch := f.storage.NewFile(pathOf("a.txt"), 1)
	f.run(t, func(tx *txn.Trans) error {
		_, err := branch.Write(strings.NewReader("theirs"), tx)
		return err
	})
	if f.exists(t, "a.txt") {
		t.Error("conflict branch written at the master location")
	}

	f.run(t, func(tx *txn.Trans) error {
		return branch.Move(pathOf("b.txt"), tx)
	})
	loc := f.storage.conflictLocation(pathOf("a.txt").SOID(), 1)
	if ok, _ := afero.Exists(f.fs, loc); !ok {
		t.Errorf("conflict branch missing at %s after Move", loc)
	}
}

func TestFolder_Create(t *testing.T) {
	tests := []struct {
		name    string
		op      st.PhysicalOp
		wantID  bool
		wantDir bool
	}{
		{name: "apply", op: st.PhysicalApply, wantID: true, wantDir: true},
		{name: "map", op: st.PhysicalMap, wantID: true, wantDir: false},
		{name: "nop", op: st.PhysicalNop, wantID: false, wantDir: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var id string
			f.run(t, func(tx *txn.Trans) error {
				var err error
				id, err = f.storage.NewFolder(pathOf("docs")).Create(tt.op, tx)
				return err
			})
			if (id != "") != tt.wantID {
				t.Errorf("Create() id = %q, wantID %v", id, tt.wantID)
			}
			if got := f.exists(t, "docs"); got != tt.wantDir {
				t.Errorf("folder exists = %v, want %v", got, tt.wantDir)
			}
		})
	}
}

func TestFolder_CreateAbortRemovesFolder(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	err := f.tm.Run(func(tx *txn.Trans) error {
		if _, err := f.storage.NewFolder(pathOf("docs")).Create(st.PhysicalApply, tx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if f.exists(t, "docs") {
		t.Error("docs still exists after abort")
	}
}

func TestFolder_MoveAbortMovesBack(t *testing.T) {
	f := newFixture(t)
	f.run(t, func(tx *txn.Trans) error {
		_, err := f.storage.NewFolder(pathOf("docs")).Create(st.PhysicalApply, tx)
		return err
	})
	f.write(t, "docs/a.txt", "hello")

	boom := errors.New("boom")
	err := f.tm.Run(func(tx *txn.Trans) error {
		if err := f.storage.NewFolder(pathOf("docs")).Move(pathOf("archive/docs"), tx); err != nil {
			return err
		}
		if !f.exists(t, "archive/docs/a.txt") {
			t.Error("archive/docs/a.txt missing inside the transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if !f.exists(t, "docs/a.txt") {
		t.Error("docs/a.txt not moved back after abort")
	}
}

func TestFolder_ScrubPreservesHistory(t *testing.T) {
	f := newFixture(t, "*.log")
	f.run(t, func(tx *txn.Trans) error {
		_, err := f.storage.NewFolder(pathOf("docs/sub")).Create(st.PhysicalApply, tx)
		return err
	})
	f.write(t, "docs/a.txt", "a")
	f.write(t, "docs/sub/b.txt", "b")
	f.write(t, "docs/debug.log", "noise")

	f.run(t, func(tx *txn.Trans) error {
		return f.storage.NewFolder(pathOf("docs")).Scrub(pathOf("docs").SOID(), "docs", st.ScrubExpelled, tx)
	})

	if f.exists(t, "docs") {
		t.Error("docs still exists after Scrub")
	}
	if got := f.restore(t, "docs/a.txt"); got != "a" {
		t.Errorf("docs/a.txt = %q, want %q", got, "a")
	}
	if got := f.restore(t, "docs/sub/b.txt"); got != "b" {
		t.Errorf("docs/sub/b.txt = %q, want %q", got, "b")
	}
	revs, err := f.vault.ListRevisions("docs/debug.log")
	if err != nil {
		t.Fatalf("ListRevisions() error = %v", err)
	}
	if len(revs) != 0 {
		t.Errorf("ignored file preserved %d revision(s)", len(revs))
	}
}

func TestFolder_ScrubWithoutHistory(t *testing.T) {
	f := newFixture(t)
	f.run(t, func(tx *txn.Trans) error {
		_, err := f.storage.NewFolder(pathOf("docs")).Create(st.PhysicalApply, tx)
		return err
	})
	f.write(t, "docs/a.txt", "a")

	f.run(t, func(tx *txn.Trans) error {
		return f.storage.NewFolder(pathOf("docs")).Scrub(pathOf("docs").SOID(), "", st.ScrubRemnant, tx)
	})
	if f.exists(t, "docs") {
		t.Error("docs still exists after Scrub")
	}
	if got := len(f.vault.Paths()); got != 0 {
		t.Errorf("vault paths = %d, want 0", got)
	}
}

func TestFolder_MountMarker(t *testing.T) {
	f := newFixture(t)
	folder := f.storage.NewFolder(pathOf("shared"))

	f.run(t, func(tx *txn.Trans) error {
		return folder.PromoteToStoreMount(7, st.PhysicalMap, tx)
	})
	got, err := f.storage.MountedStore(pathOf("shared"))
	if err != nil {
		t.Fatalf("MountedStore() error = %v", err)
	}
	if got != 0 {
		t.Errorf("MountedStore() = %d after a mapped promotion, want 0", got)
	}

	f.run(t, func(tx *txn.Trans) error {
		return folder.PromoteToStoreMount(7, st.PhysicalApply, tx)
	})
	got, err = f.storage.MountedStore(pathOf("shared"))
	if err != nil {
		t.Fatalf("MountedStore() error = %v", err)
	}
	if got != 7 {
		t.Errorf("MountedStore() = %d, want 7", got)
	}
}

func TestStorage_IgnoreFileFromRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, filepath.Join(testRoot, IgnoreFileName), []byte("*.tmp\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	s, err := NewStorage(fs, Options{Root: testRoot, AuxDir: testAux})
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	if !s.skip.Skip("scratch.tmp") {
		t.Error("pattern from the root ignore file not applied")
	}
	if !s.skip.Skip(MountMarker) {
		t.Error("default pattern dropped when an ignore file exists")
	}
}

func TestStorage_DeletePrefix(t *testing.T) {
	f := newFixture(t)
	soid := st.SOID{Sidx: st.RootSIndex, OID: "abc"}
	other := st.SOID{Sidx: st.RootSIndex, OID: "abd"}
	for _, loc := range []string{
		f.storage.prefixLocation(soid, 0),
		f.storage.prefixLocation(soid, 1),
		f.storage.prefixLocation(other, 0),
	} {
		if err := afero.WriteFile(f.fs, loc, []byte("partial"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	f.run(t, func(tx *txn.Trans) error {
		return f.storage.DeletePrefix(soid, tx)
	})

	entries, err := afero.ReadDir(f.fs, filepath.Join(testAux, prefixDir))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != f.storage.auxName(other, 0) {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("remaining prefixes = %v, want only %s", names, f.storage.auxName(other, 0))
	}
}
