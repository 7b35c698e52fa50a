package st

import (
	"io"

	"st-go/internal/txn"
)

// PhysicalStorage hands out handles on the physical artifacts backing
// logical objects. Handles are cheap; nothing touches disk until a method
// is called on them. Every mutating call is idempotent: acting on an
// artifact that is already in the desired state succeeds.
type PhysicalStorage interface {
	NewFile(path ResolvedPath, kidx KIndex) PhysicalFile
	NewFolder(path ResolvedPath) PhysicalFolder

	// DeletePrefix removes partially downloaded content of a file.
	DeletePrefix(soid SOID, t *txn.Trans) error
}

// PhysicalFile is one branch of a file.
type PhysicalFile interface {
	// Move relocates the artifact. Aborting t moves it back.
	Move(to ResolvedPath, t *txn.Trans) error

	// Write replaces the branch content with r. Aborting t removes it.
	Write(r io.Reader, t *txn.Trans) (int64, error)

	// Scrub removes the artifact. When historyPath is non-empty the
	// content is first preserved in the history vault under that path.
	Scrub(soid SOID, historyPath string, reason ScrubReason, t *txn.Trans) error
}

// PhysicalFolder is a folder or anchor mount point.
type PhysicalFolder interface {
	Move(to ResolvedPath, t *txn.Trans) error

	// Create makes the folder and returns the physical identity it was
	// bound to. PhysicalNop returns "".
	Create(op PhysicalOp, t *txn.Trans) (string, error)

	// Remove deletes the folder without preserving anything.
	Remove(t *txn.Trans) error

	// Scrub removes the folder and everything below it. When historyPath is
	// non-empty every file found is preserved in the history vault first.
	Scrub(soid SOID, historyPath string, reason ScrubReason, t *txn.Trans) error

	// PromoteToStoreMount marks the folder as the mount point of a store.
	PromoteToStoreMount(child SIndex, op PhysicalOp, t *txn.Trans) error
}
