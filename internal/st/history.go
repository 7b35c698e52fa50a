package st

import (
	"fmt"
	"io"
)

// GetRevisions returns the preserved revisions of the file that lived at
// path, oldest first.
func (s *STService) GetRevisions(path string) ([]*Revision, error) {
	revs, err := s.vault.ListRevisions(path)
	if err != nil {
		return nil, fmt.Errorf("listing revisions of %q: %w", path, err)
	}
	return revs, nil
}

// RestoreRevision writes the content of one revision to w.
func (s *STService) RestoreRevision(path, id string, w io.Writer) error {
	if err := s.vault.GetRevision(path, id, w); err != nil {
		return fmt.Errorf("restoring revision %s of %q: %w", id, path, err)
	}
	s.logger.Info("revision restored", "path", path, "id", id)
	return nil
}

// GetOperations returns the most recent operations, ordered newest first.
func (s *STService) GetOperations(limit int) ([]*Operation, error) {
	ops, err := s.ops.List(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
