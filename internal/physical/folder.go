package physical

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// Folder is a folder or anchor mount point at a resolved path.
type Folder struct {
	s    *Storage
	path st.ResolvedPath
}

var _ st.PhysicalFolder = (*Folder)(nil)

func (f *Folder) Move(to st.ResolvedPath, t *txn.Trans) error {
	return f.s.rename(f.s.Location(f.path), f.s.Location(to), t)
}

// Create makes the folder according to op and returns a fresh physical
// identity. Aborting t removes a folder this call created.
func (f *Folder) Create(op st.PhysicalOp, t *txn.Trans) (string, error) {
	switch op {
	case st.PhysicalNop:
		return "", nil
	case st.PhysicalMap:
		return f.s.idgen.New(), nil
	}

	loc := f.s.Location(f.path)
	existed, err := afero.DirExists(f.s.fs, loc)
	if err != nil {
		return "", err
	}
	if !existed {
		if err := f.s.fs.MkdirAll(loc, 0755); err != nil {
			return "", fmt.Errorf("creating folder %s: %w", loc, err)
		}
		t.OnAbort(func() {
			f.s.fs.Remove(loc)
		})
	}
	return f.s.idgen.New(), nil
}

// Remove deletes the folder without preserving anything.
func (f *Folder) Remove(t *txn.Trans) error {
	loc := f.s.Location(f.path)
	if err := f.s.fs.RemoveAll(loc); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing folder %s: %w", loc, err)
	}
	return nil
}

// Scrub removes the folder recursively. Every regular file the history
// filter keeps is preserved under historyPath plus its relative path.
func (f *Folder) Scrub(soid st.SOID, historyPath string, reason st.ScrubReason, t *txn.Trans) error {
	loc := f.s.Location(f.path)
	ok, err := afero.Exists(f.s.fs, loc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if historyPath != "" {
		err := afero.Walk(f.s.fs, loc, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(loc, p)
			if err != nil {
				return err
			}
			if f.s.skip.Skip(rel) {
				return nil
			}
			dest := historyPath
			if rel != "." {
				dest += "/" + filepath.ToSlash(rel)
			}
			return f.s.preserve(p, dest)
		})
		if err != nil {
			return fmt.Errorf("preserving %s: %w", loc, err)
		}
	}

	if err := f.s.fs.RemoveAll(loc); err != nil {
		return fmt.Errorf("removing folder %s: %w", loc, err)
	}
	f.s.logger.Debug("folder scrubbed", "soid", soid, "path", f.path.String(), "reason", reason)
	return nil
}

// PromoteToStoreMount writes the mount marker naming the child store.
func (f *Folder) PromoteToStoreMount(child st.SIndex, op st.PhysicalOp, t *txn.Trans) error {
	if op != st.PhysicalApply {
		return nil
	}
	marker := filepath.Join(f.s.Location(f.path), MountMarker)
	if err := f.s.fs.MkdirAll(filepath.Dir(marker), 0755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}
	if err := afero.WriteFile(f.s.fs, marker, []byte(strconv.FormatInt(int64(child), 10)), 0644); err != nil {
		return fmt.Errorf("writing mount marker: %w", err)
	}
	t.OnAbort(func() {
		f.s.fs.Remove(marker)
	})
	return nil
}

// MountedStore reads the mount marker at path. It returns 0 when the
// folder is not a mount point.
func (s *Storage) MountedStore(path st.ResolvedPath) (st.SIndex, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.Location(path), MountMarker))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mount marker at %s: %w", path, err)
	}
	return st.SIndex(n), nil
}
