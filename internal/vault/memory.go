package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"st-go/internal/st"
)

type memoryRevision struct {
	rev  st.Revision
	data []byte
}

// MemoryVault is an in-memory implementation of st.HistoryVault, useful
// for testing. It is safe for concurrent use.
type MemoryVault struct {
	name      string
	ids       *revisionIDs
	revisions map[string][]*memoryRevision // path -> revisions, oldest first
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return NewMemoryVaultWithClock(name, st.RealClock{})
}

// NewMemoryVaultWithClock creates a memory vault that timestamps revisions
// with clock.
func NewMemoryVaultWithClock(name string, clock st.Clock) *MemoryVault {
	return &MemoryVault{
		name:      name,
		ids:       newRevisionIDs(clock),
		revisions: make(map[string][]*memoryRevision),
	}
}

// PutRevision stores the content of r as a new revision of path.
func (m *MemoryVault) PutRevision(path string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	id, now := m.ids.next()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions[path] = append(m.revisions[path], &memoryRevision{
		rev:  st.Revision{ID: id, Path: path, Size: size, CreatedAt: now},
		data: data,
	})
	return id, nil
}

// ListRevisions returns the revisions of path, oldest first.
func (m *MemoryVault) ListRevisions(path string) ([]*st.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*st.Revision
	for _, r := range m.revisions[path] {
		rev := r.rev
		out = append(out, &rev)
	}
	return out, nil
}

// Paths returns every path with at least one revision.
func (m *MemoryVault) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.revisions))
	for p := range m.revisions {
		out = append(out, p)
	}
	return out
}

// GetRevision writes the content of a revision to w.
func (m *MemoryVault) GetRevision(path string, id string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.revisions[path] {
		if r.rev.ID != id {
			continue
		}
		if _, err := io.Copy(w, bytes.NewReader(r.data)); err != nil {
			return fmt.Errorf("failed to write content: %w", err)
		}
		return nil
	}
	return fmt.Errorf("revision %s of %q: %w", id, path, st.ErrNotFound)
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ st.HistoryVault = (*MemoryVault)(nil)
