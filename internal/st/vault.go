package st

import (
	"io"
	"time"
)

// Revision is one preserved copy of a file that was removed from local
// storage.
type Revision struct {
	ID        string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// HistoryVault stores revisions of scrubbed files.
// All operations use io.Reader/io.Writer for streaming to support large files
// without loading them entirely into memory.
type HistoryVault interface {
	// PutRevision stores a new revision for path and returns its id.
	// size is the number of bytes that will be read from r.
	PutRevision(path string, r io.Reader, size int64) (string, error)

	// ListRevisions returns the revisions of path, oldest first.
	ListRevisions(path string) ([]*Revision, error)

	// GetRevision writes the content of a revision to w.
	GetRevision(path string, id string, w io.Writer) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
