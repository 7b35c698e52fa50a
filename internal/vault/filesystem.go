package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"st-go/internal/st"
)

// FileSystemVault stores revisions as files:
//
//	<root>/
//	  history/
//	    <escaped logical path>/
//	      <revision id>
type FileSystemVault struct {
	name       string
	root       string
	historyDir string
	ids        *revisionIDs
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string, clock st.Clock) (*FileSystemVault, error) {
	historyDir := filepath.Join(root, "history")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileSystemVault{
		name:       name,
		root:       root,
		historyDir: historyDir,
		ids:        newRevisionIDs(clock),
	}, nil
}

func (v *FileSystemVault) pathDir(path string) string {
	return filepath.Join(v.historyDir, escapePath(path))
}

// PutRevision stores the content of r as a new revision of path.
func (v *FileSystemVault) PutRevision(path string, r io.Reader, size int64) (string, error) {
	dir := v.pathDir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create revision directory: %w", err)
	}

	id, _ := v.ids.next()
	if err := v.writeFile(filepath.Join(dir, id), r, size); err != nil {
		return "", err
	}
	return id, nil
}

// ListRevisions returns the revisions of path, oldest first.
func (v *FileSystemVault) ListRevisions(path string) ([]*st.Revision, error) {
	entries, err := os.ReadDir(v.pathDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing revisions: %w", err)
	}

	var out []*st.Revision
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat revision %s: %w", e.Name(), err)
		}
		created, err := revisionTime(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, &st.Revision{ID: e.Name(), Path: path, Size: info.Size(), CreatedAt: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRevision writes the content of a revision to w.
func (v *FileSystemVault) GetRevision(path string, id string, w io.Writer) error {
	f, err := os.Open(filepath.Join(v.pathDir(path), filepath.Base(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("revision %s of %q: %w", id, path, st.ErrNotFound)
		}
		return fmt.Errorf("failed to open revision: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read revision: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.historyDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to destPath through a temp file and rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ st.HistoryVault = (*FileSystemVault)(nil)
