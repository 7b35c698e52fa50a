package staging

import (
	"fmt"
	"slices"
	"sync"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// memoryStore keeps staged entries in memory. Every mutation registers an
// abort hook that undoes it, so it follows transaction semantics like the
// SQLite store does. Useful for testing.
type memoryStore struct {
	mu       sync.Mutex
	seq      int64
	entries  map[st.SOID]*st.StagedEntry
	progress map[st.SOID]map[st.OID]struct{}
}

var _ stagingStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries:  make(map[st.SOID]*st.StagedEntry),
		progress: make(map[st.SOID]map[st.OID]struct{}),
	}
}

func (m *memoryStore) Add(e *st.StagedEntry, t *txn.Trans) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[e.SOID]; ok {
		return fmt.Errorf("staging %s: %w", e.SOID, st.ErrExists)
	}
	m.seq++
	e.Seq = m.seq
	soid := e.SOID
	m.entries[soid] = copyEntry(e)

	t.OnAbort(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.entries, soid)
	})
	return nil
}

func (m *memoryStore) Remove(soid st.SOID, t *txn.Trans) error {
	m.mu.Lock()
	prev, existed := m.entries[soid]
	delete(m.entries, soid)
	m.mu.Unlock()

	if existed {
		t.OnAbort(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.entries[soid] = prev
		})
	}
	return m.ClearProgress(soid, t)
}

func (m *memoryStore) Get(soid st.SOID) (*st.StagedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[soid]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (m *memoryStore) Next(after int64) (*st.StagedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *st.StagedEntry
	for _, e := range m.entries {
		if e.Seq > after && (best == nil || e.Seq < best.Seq) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyEntry(best), nil
}

func (m *memoryStore) List() ([]*st.StagedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*st.StagedEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, copyEntry(e))
	}
	slices.SortFunc(out, func(a, b *st.StagedEntry) int {
		return int(a.Seq - b.Seq)
	})
	return out, nil
}

func (m *memoryStore) MarkCleaned(entry st.SOID, oid st.OID, t *txn.Trans) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	done, ok := m.progress[entry]
	if !ok {
		done = make(map[st.OID]struct{})
		m.progress[entry] = done
	}
	if _, already := done[oid]; already {
		return nil
	}
	done[oid] = struct{}{}

	t.OnAbort(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.progress[entry], oid)
	})
	return nil
}

func (m *memoryStore) IsCleaned(entry st.SOID, oid st.OID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.progress[entry][oid]
	return ok, nil
}

func (m *memoryStore) ClearProgress(entry st.SOID, t *txn.Trans) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.progress[entry]
	if !ok {
		return nil
	}
	delete(m.progress, entry)

	t.OnAbort(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.progress[entry] = prev
	})
	return nil
}

func copyEntry(e *st.StagedEntry) *st.StagedEntry {
	c := *e
	c.Path.SOIDs = slices.Clone(e.Path.SOIDs)
	c.Path.Names = slices.Clone(e.Path.Names)
	return &c
}
