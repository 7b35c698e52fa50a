package txn

// flusher is the type-erased view of a Set's per-transaction state.
type flusher interface {
	flush(t *Trans) error
}

// Set accumulates distinct values over the lifetime of one transaction
// and hands them to its flush function exactly once, just before the
// transaction commits. A Set is declared once and shared; its contents
// live in the transaction, so aborted transactions leave nothing behind.
type Set[T comparable] struct {
	name  string
	flush func(t *Trans, items []T) error
}

// NewSet creates a Set whose accumulated values are passed to flush at
// commit time.
func NewSet[T comparable](name string, flush func(t *Trans, items []T) error) *Set[T] {
	return &Set[T]{name: name, flush: flush}
}

// Name returns the set's name.
func (s *Set[T]) Name() string {
	return s.name
}

// Add records v in t. Duplicates are ignored.
func (s *Set[T]) Add(t *Trans, v T) {
	f, ok := t.sets[s]
	if !ok {
		f = &pending[T]{set: s, seen: make(map[T]struct{})}
		t.sets[s] = f
		t.setOrder = append(t.setOrder, f)
	}
	f.(*pending[T]).add(v)
}

// Contains reports whether v has been added to s in t.
func (s *Set[T]) Contains(t *Trans, v T) bool {
	f, ok := t.sets[s]
	if !ok {
		return false
	}
	_, found := f.(*pending[T]).seen[v]
	return found
}

type pending[T comparable] struct {
	set   *Set[T]
	seen  map[T]struct{}
	items []T
}

func (p *pending[T]) add(v T) {
	if _, ok := p.seen[v]; ok {
		return
	}
	p.seen[v] = struct{}{}
	p.items = append(p.items, v)
}

func (p *pending[T]) flush(t *Trans) error {
	if len(p.items) == 0 {
		return nil
	}
	items := p.items
	p.items = nil
	return p.set.flush(t, items)
}
