package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"st-go/internal/st"
)

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")

		v, err := NewFileSystemVault("test", root, nil)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "history")); err != nil {
			t.Errorf("history directory not created: %v", err)
		}
		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir(), nil); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_PutRevision(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store content successfully", path: "docs/a.txt", data: "hello world", size: 11},
		{name: "size mismatch", path: "docs/b.txt", data: "hello", size: 100, wantErr: true},
		{name: "empty content", path: "empty", data: "", size: 0},
		{name: "path with special characters", path: "a b/ç?#.txt", data: "x", size: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewFileSystemVault("test", t.TempDir(), nil)
			if err != nil {
				t.Fatalf("NewFileSystemVault() error = %v", err)
			}

			id, err := v.PutRevision(tt.path, strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutRevision() error = %v, wantErr %v", err, tt.wantErr)
			}

			revs, err := v.ListRevisions(tt.path)
			if err != nil {
				t.Fatalf("ListRevisions() error = %v", err)
			}
			if tt.wantErr {
				if len(revs) != 0 {
					t.Errorf("ListRevisions() = %d revisions after failed put, want 0", len(revs))
				}
				return
			}
			if len(revs) != 1 || revs[0].ID != id || revs[0].Size != tt.size {
				t.Fatalf("ListRevisions() = %+v", revs)
			}

			var buf bytes.Buffer
			if err := v.GetRevision(tt.path, id, &buf); err != nil {
				t.Fatalf("GetRevision() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("GetRevision() = %q, want %q", buf.String(), tt.data)
			}
		})
	}
}

func TestFileSystemVault_RevisionsOrderedUnderStoppedClock(t *testing.T) {
	clock := fixedClock{t: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
	v, err := NewFileSystemVault("test", t.TempDir(), clock)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	var ids []string
	for _, content := range []string{"first", "second", "third"} {
		id, err := v.PutRevision("doc", strings.NewReader(content), int64(len(content)))
		if err != nil {
			t.Fatalf("PutRevision() error = %v", err)
		}
		ids = append(ids, id)
	}

	revs, err := v.ListRevisions("doc")
	if err != nil {
		t.Fatalf("ListRevisions() error = %v", err)
	}
	if len(revs) != len(ids) {
		t.Fatalf("len(ListRevisions()) = %d, want %d", len(revs), len(ids))
	}
	for i := range ids {
		if revs[i].ID != ids[i] {
			t.Errorf("revs[%d].ID = %s, want %s", i, revs[i].ID, ids[i])
		}
	}
}

func TestFileSystemVault_PathsDoNotCollide(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	if _, err := v.PutRevision("a/b", strings.NewReader("nested"), 6); err != nil {
		t.Fatalf("PutRevision() error = %v", err)
	}
	revs, err := v.ListRevisions("a")
	if err != nil {
		t.Fatalf("ListRevisions() error = %v", err)
	}
	if len(revs) != 0 {
		t.Errorf("ListRevisions(a) = %d revisions, want 0", len(revs))
	}
}

func TestFileSystemVault_GetRevision_NotFound(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.GetRevision("missing", "00000000000000000001-x", &buf); !errors.Is(err, st.ErrNotFound) {
		t.Errorf("GetRevision() error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		v, err := NewFileSystemVault("test", t.TempDir(), nil)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("history directory removed", func(t *testing.T) {
		root := t.TempDir()
		v, err := NewFileSystemVault("test", root, nil)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		os.RemoveAll(filepath.Join(root, "history"))
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error")
		}
	})
}
