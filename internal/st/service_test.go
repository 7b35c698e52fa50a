package st_test

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"st-go/internal/st"
	"st-go/internal/testutil"
)

func newService(t *testing.T, opts testutil.HarnessOptions) (*st.STService, *testutil.Harness) {
	t.Helper()
	h := testutil.NewHarness(t, opts)
	svc := st.NewSTService(st.ServiceDeps{
		TxManager:  h.TM,
		Directory:  h.Dir,
		Expulsion:  h.Expulsion,
		Staging:    h.Staging,
		Physical:   h.Physical,
		Versions:   h.Versions,
		Stores:     h.Stores,
		Vault:      h.Vault,
		Operations: h.DB.Operations(),
		IDs:        h.IDs,
	})
	return svc, h
}

func mustImport(t *testing.T, svc *st.STService, rel, content string) st.SOID {
	t.Helper()
	soid, err := svc.ImportFile(rel, strings.NewReader(content))
	if err != nil {
		t.Fatalf("ImportFile(%s) error = %v", rel, err)
	}
	return soid
}

func mustMkdir(t *testing.T, svc *st.STService, rel string) st.SOID {
	t.Helper()
	soid, err := svc.CreateFolder(rel)
	if err != nil {
		t.Fatalf("CreateFolder(%s) error = %v", rel, err)
	}
	return soid
}

func TestSTService_CreateFolder(t *testing.T) {
	t.Run("creates a materialized folder", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		soid := mustMkdir(t, svc, "docs")
		mustMkdir(t, svc, "docs/sub")

		if !h.Exists(t, "docs/sub") {
			t.Error("folder not created on disk")
		}
		if !h.Object(t, soid).Materialized() {
			t.Error("folder has no physical identity")
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "docs")
		if _, err := svc.CreateFolder("docs"); !errors.Is(err, st.ErrExists) {
			t.Errorf("CreateFolder() error = %v, want ErrExists", err)
		}
	})

	t.Run("rejects missing parent", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		if _, err := svc.CreateFolder("nope/docs"); !errors.Is(err, st.ErrNotFound) {
			t.Errorf("CreateFolder() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("only records metadata below an expelled folder", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "docs")
		if err := svc.Exclude("docs"); err != nil {
			t.Fatalf("Exclude() error = %v", err)
		}
		soid := mustMkdir(t, svc, "docs/sub")

		if h.Exists(t, "docs/sub") {
			t.Error("folder created on disk below an expelled folder")
		}
		if h.Object(t, soid).Materialized() {
			t.Error("folder below an expelled folder has a physical identity")
		}
	})
}

func TestSTService_ImportFile(t *testing.T) {
	t.Run("writes content", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "docs")
		soid := mustImport(t, svc, "docs/a.txt", "hello")

		if got := h.ReadFile(t, "docs/a.txt"); got != "hello" {
			t.Errorf("content = %q, want %q", got, "hello")
		}
		o := h.Object(t, soid)
		if !reflect.DeepEqual(o.Branches, []st.KIndex{st.MasterKIndex}) {
			t.Errorf("branches = %v, want master only", o.Branches)
		}
		if v, _ := h.Versions.LocalVersion(soid); v != 1 {
			t.Errorf("LocalVersion() = %d, want 1", v)
		}
	})

	t.Run("fails below an expelled folder", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "docs")
		if err := svc.Exclude("docs"); err != nil {
			t.Fatalf("Exclude() error = %v", err)
		}
		_, err := svc.ImportFile("docs/a.txt", strings.NewReader("x"))
		if !errors.Is(err, st.ErrExpelled) {
			t.Errorf("ImportFile() error = %v, want ErrExpelled", err)
		}
	})

	t.Run("fails below a file", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		mustImport(t, svc, "a.txt", "x")
		if _, err := svc.ImportFile("a.txt/b.txt", strings.NewReader("y")); err == nil {
			t.Error("ImportFile() expected error below a file")
		}
	})
}

func TestSTService_CreateAnchor(t *testing.T) {
	svc, h := newService(t, testutil.HarnessOptions{})
	sidx, err := svc.CreateAnchor("shared", "team")
	if err != nil {
		t.Fatalf("CreateAnchor() error = %v", err)
	}
	if sidx == st.RootSIndex {
		t.Fatalf("CreateAnchor() reused the root store index")
	}
	mustImport(t, svc, "shared/notes.txt", "n")

	if got := h.ReadFile(t, "shared/notes.txt"); got != "n" {
		t.Errorf("content = %q, want %q", got, "n")
	}
	store, err := h.Stores.Get(sidx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if store == nil || store.Name != "team" {
		t.Errorf("Get() = %+v, want store named team", store)
	}
}

func TestSTService_Move(t *testing.T) {
	t.Run("moves content along", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "a")
		mustMkdir(t, svc, "b")
		mustImport(t, svc, "a/f.txt", "data")

		if err := svc.Move("a/f.txt", "b/g.txt"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if h.Exists(t, "a/f.txt") {
			t.Error("source still exists")
		}
		if got := h.ReadFile(t, "b/g.txt"); got != "data" {
			t.Errorf("content = %q, want %q", got, "data")
		}
	})

	t.Run("rejects moving into itself", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "a")
		mustMkdir(t, svc, "a/b")
		if err := svc.Move("a", "a/b/a"); err == nil {
			t.Error("Move() expected error moving a folder into itself")
		}
	})

	t.Run("rejects crossing stores", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "a")
		if _, err := svc.CreateAnchor("shared", "team"); err != nil {
			t.Fatalf("CreateAnchor() error = %v", err)
		}
		if err := svc.Move("a", "shared/a"); err == nil {
			t.Error("Move() expected error across stores")
		}
	})

	t.Run("rejects the root", func(t *testing.T) {
		svc, _ := newService(t, testutil.HarnessOptions{})
		mustMkdir(t, svc, "a")
		if err := svc.Move("", "a/root"); err == nil {
			t.Error("Move() expected error for the root")
		}
	})
}

func TestSTService_Delete(t *testing.T) {
	svc, h := newService(t, testutil.HarnessOptions{})
	mustMkdir(t, svc, "docs")
	mustImport(t, svc, "docs/a.txt", "first")

	if err := svc.Delete("docs"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Drain(0); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if h.Exists(t, "docs") {
		t.Error("deleted folder still exists")
	}

	revs, err := svc.GetRevisions("docs/a.txt")
	if err != nil {
		t.Fatalf("GetRevisions() error = %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("GetRevisions() returned %d revisions, want 1", len(revs))
	}
	var buf bytes.Buffer
	if err := svc.RestoreRevision("docs/a.txt", revs[0].ID, &buf); err != nil {
		t.Fatalf("RestoreRevision() error = %v", err)
	}
	if buf.String() != "first" {
		t.Errorf("restored content = %q, want %q", buf.String(), "first")
	}

	if err := svc.Delete(""); err == nil {
		t.Error("Delete() expected error for the root")
	}
}

func TestSTService_ExcludeInclude(t *testing.T) {
	svc, h := newService(t, testutil.HarnessOptions{})
	mustMkdir(t, svc, "docs")
	mustMkdir(t, svc, "docs/sub")
	mustImport(t, svc, "docs/sub/a.txt", "a")

	if err := svc.Exclude("docs"); err != nil {
		t.Fatalf("Exclude() error = %v", err)
	}
	excluded, err := svc.ListExcluded()
	if err != nil {
		t.Fatalf("ListExcluded() error = %v", err)
	}
	if !reflect.DeepEqual(excluded, []string{"docs"}) {
		t.Errorf("ListExcluded() = %v, want [docs]", excluded)
	}

	entries, err := svc.StagedEntries()
	if err != nil {
		t.Fatalf("StagedEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("StagedEntries() returned %d entries, want 1", len(entries))
	}

	n, err := svc.Drain(0)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Drain() = %d, want 1", n)
	}
	if h.Exists(t, "docs") {
		t.Error("excluded folder still exists after draining")
	}

	if err := svc.Include("docs"); err != nil {
		t.Fatalf("Include() error = %v", err)
	}
	if !h.Exists(t, "docs/sub") {
		t.Error("included folders were not re-created")
	}
	if excluded, _ := svc.ListExcluded(); len(excluded) != 0 {
		t.Errorf("ListExcluded() = %v after Include(), want none", excluded)
	}

	if err := svc.Exclude("docs/sub/a.txt"); !errors.Is(err, st.ErrNotExpellable) {
		t.Errorf("Exclude(file) error = %v, want ErrNotExpellable", err)
	}
	if err := svc.Exclude(""); !errors.Is(err, st.ErrRootExpulsion) {
		t.Errorf("Exclude(root) error = %v, want ErrRootExpulsion", err)
	}
}

// stageAndRename leaves a staged entry for foo at its old location after
// foo was excluded and renamed to foo-old.
func stageAndRename(t *testing.T, svc *st.STService) {
	t.Helper()
	mustMkdir(t, svc, "foo")
	mustImport(t, svc, "foo/qux", "old")
	if err := svc.Exclude("foo"); err != nil {
		t.Fatalf("Exclude() error = %v", err)
	}
	if err := svc.Move("foo", "foo-old"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
}

func TestSTService_ReuseOfStagedLocation(t *testing.T) {
	t.Run("new folder starts empty and survives draining", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{PreserveHistory: true})
		stageAndRename(t, svc)

		mustMkdir(t, svc, "foo")
		if h.Exists(t, "foo/qux") {
			t.Error("stale foo/qux visible in the new folder")
		}
		revs, err := h.Vault.ListRevisions("foo/qux")
		if err != nil {
			t.Fatalf("ListRevisions() error = %v", err)
		}
		if len(revs) != 1 {
			t.Errorf("ListRevisions(foo/qux) returned %d revisions, want 1", len(revs))
		}

		mustImport(t, svc, "foo/new.txt", "new")
		if _, err := svc.Drain(0); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		if got := h.ReadFile(t, "foo/new.txt"); got != "new" {
			t.Errorf("foo/new.txt = %q after draining, want %q", got, "new")
		}
		if entries, _ := svc.StagedEntries(); len(entries) != 0 {
			t.Errorf("%d entries left, want 0", len(entries))
		}
	})

	t.Run("re-admitting the renamed folder keeps the new one", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		stageAndRename(t, svc)
		mustMkdir(t, svc, "foo")
		mustImport(t, svc, "foo/new.txt", "new")

		if err := svc.Include("foo-old"); err != nil {
			t.Fatalf("Include() error = %v", err)
		}
		if got := h.ReadFile(t, "foo/new.txt"); got != "new" {
			t.Errorf("foo/new.txt = %q after Include(), want %q", got, "new")
		}
		if !h.Exists(t, "foo-old") {
			t.Error("foo-old was not materialized")
		}
	})

	t.Run("imported file replaces leftovers", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		stageAndRename(t, svc)

		mustImport(t, svc, "foo", "file now")
		if got := h.ReadFile(t, "foo"); got != "file now" {
			t.Errorf("foo = %q, want %q", got, "file now")
		}
		if entries, _ := svc.StagedEntries(); len(entries) != 0 {
			t.Errorf("%d entries left, want 0", len(entries))
		}
	})

	t.Run("move onto a staged location", func(t *testing.T) {
		svc, h := newService(t, testutil.HarnessOptions{})
		stageAndRename(t, svc)
		mustMkdir(t, svc, "bar")
		mustImport(t, svc, "bar/y.txt", "y")

		if err := svc.Move("bar", "foo"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if h.Exists(t, "foo/qux") {
			t.Error("stale foo/qux survived the move")
		}
		if got := h.ReadFile(t, "foo/y.txt"); got != "y" {
			t.Errorf("foo/y.txt = %q, want %q", got, "y")
		}
		if _, err := svc.Drain(0); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		if !h.Exists(t, "foo/y.txt") {
			t.Error("draining removed the moved folder")
		}
	})
}

func TestSTService_Drain_PersistentFailure(t *testing.T) {
	svc, h := newService(t, testutil.HarnessOptions{})
	for _, name := range []string{"a", "b"} {
		mustMkdir(t, svc, name)
		mustImport(t, svc, name+"/f", name)
		if err := svc.Exclude(name); err != nil {
			t.Fatalf("Exclude(%s) error = %v", name, err)
		}
	}
	h.Physical.FailScrub("a/f", 1<<30)

	type result struct {
		n   int
		err error
	}
	res := make(chan result, 1)
	go func() {
		n, err := svc.Drain(0)
		res <- result{n, err}
	}()

	var r result
	select {
	case r = <-res:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain() did not return with a failing object")
	}
	if r.err != nil {
		t.Fatalf("Drain() error = %v", r.err)
	}
	if r.n != 2 {
		t.Errorf("Drain() = %d, want 2", r.n)
	}
	entries, _ := svc.StagedEntries()
	if len(entries) != 1 || entries[0].Path.String() != "a" {
		t.Fatalf("StagedEntries() = %v, want only a", entries)
	}

	h.Physical.FailScrub("a/f", 0)
	if _, err := svc.Drain(0); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if entries, _ := svc.StagedEntries(); len(entries) != 0 {
		t.Errorf("%d entries left after the failure cleared, want 0", len(entries))
	}
	if h.Exists(t, "a") {
		t.Error("a still exists after the retry")
	}
}

func TestSTService_Drain_Limit(t *testing.T) {
	svc, _ := newService(t, testutil.HarnessOptions{})
	for _, name := range []string{"a", "b", "c"} {
		mustMkdir(t, svc, name)
		mustImport(t, svc, name+"/f", name)
		if err := svc.Exclude(name); err != nil {
			t.Fatalf("Exclude(%s) error = %v", name, err)
		}
	}

	n, err := svc.Drain(2)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Drain(2) = %d, want 2", n)
	}
	entries, _ := svc.StagedEntries()
	if len(entries) != 1 {
		t.Errorf("%d entries left, want 1", len(entries))
	}
}

func TestSTService_Status(t *testing.T) {
	svc, _ := newService(t, testutil.HarnessOptions{})
	mustMkdir(t, svc, "docs")
	mustMkdir(t, svc, "docs/sub")
	mustImport(t, svc, "docs/a.txt", "a")
	mustImport(t, svc, "docs/sub/b.txt", "b")
	if err := svc.Exclude("docs/sub"); err != nil {
		t.Fatalf("Exclude() error = %v", err)
	}

	statuses, err := svc.Status("docs")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	got := make(map[string]*st.ObjectStatus)
	for _, s := range statuses {
		got[s.Path] = s
	}
	if len(got) != 4 {
		t.Fatalf("Status() returned %d objects, want 4", len(got))
	}

	tests := []struct {
		path         string
		self         bool
		expelled     bool
		materialized bool
		staged       bool
	}{
		{"docs", false, false, true, false},
		{"docs/a.txt", false, false, true, false},
		// Physical identities are dropped only when the entry drains.
		{"docs/sub", true, true, true, true},
		{"docs/sub/b.txt", false, true, true, false},
	}
	for _, tt := range tests {
		s := got[tt.path]
		if s == nil {
			t.Errorf("no status for %s", tt.path)
			continue
		}
		if s.SelfExpelled != tt.self || s.Expelled != tt.expelled || s.Materialized != tt.materialized || s.Staged != tt.staged {
			t.Errorf("%s: self=%v expelled=%v materialized=%v staged=%v, want %v %v %v %v",
				tt.path, s.SelfExpelled, s.Expelled, s.Materialized, s.Staged,
				tt.self, tt.expelled, tt.materialized, tt.staged)
		}
	}

	if _, err := svc.Status("missing"); !errors.Is(err, st.ErrNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSTService_TearDownStores(t *testing.T) {
	svc, h := newService(t, testutil.HarnessOptions{})
	mustMkdir(t, svc, "outer")
	sidx, err := svc.CreateAnchor("outer/shared", "team")
	if err != nil {
		t.Fatalf("CreateAnchor() error = %v", err)
	}
	mustMkdir(t, svc, "outer/shared/docs")
	mustImport(t, svc, "outer/shared/docs/a.txt", "a")
	if err := svc.Exclude("outer/shared/docs"); err != nil {
		t.Fatalf("Exclude() error = %v", err)
	}
	if err := svc.Exclude("outer"); err != nil {
		t.Fatalf("Exclude() error = %v", err)
	}

	done, err := svc.TearDownStores()
	if err != nil {
		t.Fatalf("TearDownStores() error = %v", err)
	}
	if !reflect.DeepEqual(done, []st.SIndex{sidx}) {
		t.Errorf("TearDownStores() = %v, want [%d]", done, sidx)
	}
	if ok, _ := h.Stores.Exists(sidx); ok {
		t.Error("store still exists after teardown")
	}
	entries, _ := svc.StagedEntries()
	for _, e := range entries {
		if e.SOID.Sidx == sidx {
			t.Errorf("entry %s of torn down store remains", e.SOID)
		}
	}

	done, err = svc.TearDownStores()
	if err != nil || len(done) != 0 {
		t.Errorf("second TearDownStores() = %v, %v, want nothing", done, err)
	}
}

func TestSTService_GetOperations(t *testing.T) {
	svc, h := newService(t, testutil.HarnessOptions{})
	ops := h.DB.Operations()
	for _, name := range []string{"mkdir", "exclude"} {
		id, err := ops.Start(name, "docs")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := ops.Finish(id, "success"); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}
	}

	got, err := svc.GetOperations(10)
	if err != nil {
		t.Fatalf("GetOperations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetOperations() returned %d operations, want 2", len(got))
	}
	if got[0].Operation != "exclude" || got[1].Operation != "mkdir" {
		t.Errorf("GetOperations() order = %s, %s; want newest first", got[0].Operation, got[1].Operation)
	}
	if got[0].FinishedAt == nil || got[0].Status != "success" {
		t.Errorf("operation not finished: %+v", got[0])
	}
}
