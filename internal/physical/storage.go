// Package physical maps logical objects onto files and folders of an
// afero filesystem.
package physical

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// MountMarker is written into the folder that mounts a store.
const MountMarker = ".stmount"

const (
	conflictDir = "conflict"
	prefixDir   = "prefix"
)

// Storage implements st.PhysicalStorage. Master branches and folders live
// under root at their logical path; conflict branches and partial
// downloads live under aux, keyed by object identity.
type Storage struct {
	fs     afero.Fs
	root   string
	aux    string
	vault  st.HistoryVault
	skip   *HistoryFilter
	idgen  st.IDGenerator
	logger st.Logger
}

var _ st.PhysicalStorage = (*Storage)(nil)

// Options configures a Storage.
type Options struct {
	Root          string
	AuxDir        string
	HistoryIgnore []string
	// Vault receives preserved revisions. May be nil, in which case
	// nothing is preserved.
	Vault  st.HistoryVault
	IDGen  st.IDGenerator
	Logger st.Logger
}

// NewStorage creates a Storage on fs. Patterns from the root's ignore file
// are added to opts.HistoryIgnore.
func NewStorage(fs afero.Fs, opts Options) (*Storage, error) {
	if opts.Root == "" || opts.AuxDir == "" {
		return nil, fmt.Errorf("physical storage needs both root and aux_dir")
	}
	for _, dir := range []string{opts.Root, filepath.Join(opts.AuxDir, conflictDir), filepath.Join(opts.AuxDir, prefixDir)} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	fromFile, err := ReadIgnoreFile(fs, filepath.Join(opts.Root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string{}, builtinSkips...), opts.HistoryIgnore...), fromFile...)

	s := &Storage{
		fs:     fs,
		root:   opts.Root,
		aux:    opts.AuxDir,
		vault:  opts.Vault,
		skip:   NewHistoryFilter(patterns),
		idgen:  opts.IDGen,
		logger: opts.Logger,
	}
	if s.idgen == nil {
		s.idgen = st.UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = st.NewNopLogger()
	}
	return s, nil
}

// Fs returns the underlying filesystem.
func (s *Storage) Fs() afero.Fs {
	return s.fs
}

// Root returns the directory the local tree is materialized under.
func (s *Storage) Root() string {
	return s.root
}

// Location returns the on-disk location of a folder or master branch.
func (s *Storage) Location(path st.ResolvedPath) string {
	return filepath.Join(append([]string{s.root}, path.Names...)...)
}

// Exists reports whether anything is materialized at path.
func (s *Storage) Exists(path st.ResolvedPath) (bool, error) {
	return afero.Exists(s.fs, s.Location(path))
}

func (s *Storage) NewFile(path st.ResolvedPath, kidx st.KIndex) st.PhysicalFile {
	return &File{s: s, path: path, kidx: kidx}
}

func (s *Storage) NewFolder(path st.ResolvedPath) st.PhysicalFolder {
	return &Folder{s: s, path: path}
}

func (s *Storage) auxName(soid st.SOID, kidx st.KIndex) string {
	return fmt.Sprintf("%d-%s-%d", soid.Sidx, soid.OID, kidx)
}

func (s *Storage) prefixLocation(soid st.SOID, kidx st.KIndex) string {
	return filepath.Join(s.aux, prefixDir, s.auxName(soid, kidx))
}

func (s *Storage) conflictLocation(soid st.SOID, kidx st.KIndex) string {
	return filepath.Join(s.aux, conflictDir, s.auxName(soid, kidx))
}

// DeletePrefix removes partial downloads of every branch of soid.
func (s *Storage) DeletePrefix(soid st.SOID, t *txn.Trans) error {
	dir := filepath.Join(s.aux, prefixDir)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing prefixes: %w", err)
	}

	want := fmt.Sprintf("%d-%s-", soid.Sidx, soid.OID)
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), want) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting prefix %s: %w", e.Name(), err)
		}
	}
	return nil
}

// rename moves from to to, creating to's parent. A missing source is not
// an error. Aborting t moves the artifact back.
func (s *Storage) rename(from, to string, t *txn.Trans) error {
	if from == to {
		return nil
	}
	ok, err := afero.Exists(s.fs, from)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.fs.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", to, err)
	}
	if err := s.fs.Rename(from, to); err != nil {
		return fmt.Errorf("moving %s to %s: %w", from, to, err)
	}
	t.OnAbort(func() {
		if err := s.fs.Rename(to, from); err != nil {
			s.logger.Error("failed to undo move", "from", from, "to", to, "error", err)
		}
	})
	return nil
}

// preserve stores the file at loc in the vault under historyPath.
func (s *Storage) preserve(loc, historyPath string) error {
	if s.vault == nil || historyPath == "" {
		return nil
	}
	info, err := s.fs.Stat(loc)
	if err != nil {
		return fmt.Errorf("stat %s: %w", loc, err)
	}
	f, err := s.fs.Open(loc)
	if err != nil {
		return fmt.Errorf("opening %s: %w", loc, err)
	}
	defer f.Close()

	id, err := s.vault.PutRevision(historyPath, f, info.Size())
	if err != nil {
		return fmt.Errorf("preserving %s: %w", historyPath, err)
	}
	s.logger.Debug("revision preserved", "path", historyPath, "revision", id, "size", info.Size())
	return nil
}
