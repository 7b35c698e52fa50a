package physical

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName names the file at the root of the tree that lists extra
// patterns, one per line, for content that never goes to the vault.
const IgnoreFileName = ".stignore"

// builtinSkips are bookkeeping files of the tree itself.
var builtinSkips = []string{MountMarker, IgnoreFileName}

// HistoryFilter decides which scrubbed files are dropped instead of being
// preserved as history. A pattern holding a slash is matched against the
// path below the scrubbed artifact; any other pattern against the file
// name alone. Malformed patterns are discarded when the filter is built.
type HistoryFilter struct {
	names []string
	paths []string
}

// NewHistoryFilter builds a filter from raw patterns. Blank entries and
// '#' comments are dropped.
func NewHistoryFilter(patterns []string) *HistoryFilter {
	f := &HistoryFilter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || p[0] == '#' {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			continue
		}
		if strings.Contains(p, "/") {
			f.paths = append(f.paths, p)
		} else {
			f.names = append(f.names, p)
		}
	}
	return f
}

// Skip reports whether the file at rel, relative to the scrubbed
// artifact, is left out of the history vault.
func (f *HistoryFilter) Skip(rel string) bool {
	if rel == "" {
		return false
	}
	rel = filepath.ToSlash(rel)
	return anyMatch(f.names, path.Base(rel)) || anyMatch(f.paths, rel)
}

func anyMatch(patterns []string, s string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, s); ok {
			return true
		}
	}
	return false
}

// ReadIgnoreFile returns the lines of the ignore file at name, or nothing
// when there is no such file.
func ReadIgnoreFile(fs afero.Fs, name string) ([]string, error) {
	data, err := afero.ReadFile(fs, name)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}
