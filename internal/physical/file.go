package physical

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// File is one branch of a file at a resolved path.
type File struct {
	s    *Storage
	path st.ResolvedPath
	kidx st.KIndex
}

var _ st.PhysicalFile = (*File)(nil)

func (f *File) location() string {
	return f.locationAt(f.path)
}

func (f *File) locationAt(path st.ResolvedPath) string {
	if f.kidx == st.MasterKIndex {
		return f.s.Location(path)
	}
	return f.s.conflictLocation(path.SOID(), f.kidx)
}

// Move relocates the branch. Conflict branches are stored by identity, so
// only master branches actually move.
func (f *File) Move(to st.ResolvedPath, t *txn.Trans) error {
	return f.s.rename(f.location(), f.locationAt(to), t)
}

// Write streams r into the prefix location and then moves it into place.
func (f *File) Write(r io.Reader, t *txn.Trans) (int64, error) {
	soid := f.path.SOID()
	prefix := f.s.prefixLocation(soid, f.kidx)

	out, err := f.s.fs.Create(prefix)
	if err != nil {
		return 0, fmt.Errorf("creating prefix for %s: %w", soid, err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		f.s.fs.Remove(prefix)
		return 0, fmt.Errorf("writing prefix for %s: %w", soid, err)
	}

	loc := f.location()
	if err := f.s.fs.MkdirAll(filepath.Dir(loc), 0755); err != nil {
		return 0, fmt.Errorf("creating parent of %s: %w", loc, err)
	}
	if err := f.s.fs.Rename(prefix, loc); err != nil {
		return 0, fmt.Errorf("moving content of %s into place: %w", soid, err)
	}
	t.OnAbort(func() {
		f.s.fs.Remove(loc)
	})
	return n, nil
}

// Scrub removes the branch, preserving it first when historyPath is set.
func (f *File) Scrub(soid st.SOID, historyPath string, reason st.ScrubReason, t *txn.Trans) error {
	loc := f.location()
	ok, err := afero.Exists(f.s.fs, loc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if !f.s.skip.Skip(filepath.Base(loc)) {
		if err := f.s.preserve(loc, historyPath); err != nil {
			return err
		}
	}
	if err := f.s.fs.Remove(loc); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", loc, err)
	}
	f.s.logger.Debug("file scrubbed", "soid", soid, "kidx", f.kidx, "reason", reason)
	return nil
}
