package testutil

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"st-go/internal/physical"
	"st-go/internal/st"
	"st-go/internal/txn"
)

// ErrInjected is returned by operations made to fail with FailScrub.
var ErrInjected = errors.New("injected failure")

// RecordingStorage wraps a physical.Storage, logging every mutating call
// and optionally failing scrubs. Calls are recorded as
// "<op> <path>", e.g. "scrub foo/qux" or "create foo"; conflict branches
// get a "#<kidx>" suffix.
type RecordingStorage struct {
	inner *physical.Storage

	mu        sync.Mutex
	calls     []string
	failScrub map[string]int
}

var _ st.PhysicalStorage = (*RecordingStorage)(nil)

// NewRecordingStorage wraps inner.
func NewRecordingStorage(inner *physical.Storage) *RecordingStorage {
	return &RecordingStorage{inner: inner, failScrub: make(map[string]int)}
}

// Calls returns every recorded call in order.
func (r *RecordingStorage) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Scrubs returns the paths of recorded scrubs in order.
func (r *RecordingStorage) Scrubs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, c := range r.calls {
		if path, ok := strings.CutPrefix(c, "scrub "); ok {
			out = append(out, path)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (r *RecordingStorage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// FailScrub makes the next times scrubs of path fail with ErrInjected.
func (r *RecordingStorage) FailScrub(path string, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failScrub[path] = times
}

func (r *RecordingStorage) record(op, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op+" "+path)
}

func (r *RecordingStorage) scrubFails(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failScrub[path] == 0 {
		return false
	}
	r.failScrub[path]--
	return true
}

func (r *RecordingStorage) NewFile(path st.ResolvedPath, kidx st.KIndex) st.PhysicalFile {
	name := path.String()
	if kidx != st.MasterKIndex {
		name = fmt.Sprintf("%s#%d", name, kidx)
	}
	return &recordingFile{r: r, name: name, inner: r.inner.NewFile(path, kidx)}
}

func (r *RecordingStorage) NewFolder(path st.ResolvedPath) st.PhysicalFolder {
	return &recordingFolder{r: r, name: path.String(), inner: r.inner.NewFolder(path)}
}

func (r *RecordingStorage) DeletePrefix(soid st.SOID, t *txn.Trans) error {
	r.record("prefix", soid.String())
	return r.inner.DeletePrefix(soid, t)
}

type recordingFile struct {
	r     *RecordingStorage
	name  string
	inner st.PhysicalFile
}

func (f *recordingFile) Move(to st.ResolvedPath, t *txn.Trans) error {
	f.r.record("move", f.name+" -> "+to.String())
	return f.inner.Move(to, t)
}

func (f *recordingFile) Write(rd io.Reader, t *txn.Trans) (int64, error) {
	f.r.record("write", f.name)
	return f.inner.Write(rd, t)
}

func (f *recordingFile) Scrub(soid st.SOID, historyPath string, reason st.ScrubReason, t *txn.Trans) error {
	if f.r.scrubFails(f.name) {
		return fmt.Errorf("scrub %s: %w", f.name, ErrInjected)
	}
	f.r.record("scrub", f.name)
	return f.inner.Scrub(soid, historyPath, reason, t)
}

type recordingFolder struct {
	r     *RecordingStorage
	name  string
	inner st.PhysicalFolder
}

func (f *recordingFolder) Move(to st.ResolvedPath, t *txn.Trans) error {
	f.r.record("move", f.name+" -> "+to.String())
	return f.inner.Move(to, t)
}

func (f *recordingFolder) Create(op st.PhysicalOp, t *txn.Trans) (string, error) {
	f.r.record("create", f.name)
	return f.inner.Create(op, t)
}

func (f *recordingFolder) Remove(t *txn.Trans) error {
	f.r.record("remove", f.name)
	return f.inner.Remove(t)
}

func (f *recordingFolder) Scrub(soid st.SOID, historyPath string, reason st.ScrubReason, t *txn.Trans) error {
	if f.r.scrubFails(f.name) {
		return fmt.Errorf("scrub %s: %w", f.name, ErrInjected)
	}
	f.r.record("scrub", f.name)
	return f.inner.Scrub(soid, historyPath, reason, t)
}

func (f *recordingFolder) PromoteToStoreMount(child st.SIndex, op st.PhysicalOp, t *txn.Trans) error {
	f.r.record("mount", f.name)
	return f.inner.PromoteToStoreMount(child, op, t)
}
