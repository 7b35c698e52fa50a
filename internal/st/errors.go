package st

import "errors"

var (
	// ErrRootExpulsion is returned when trying to change the expulsion flag
	// of a store root.
	ErrRootExpulsion = errors.New("cannot expel a store root")

	// ErrNotExpellable is returned when the target of an expulsion change is
	// not a folder or anchor.
	ErrNotExpellable = errors.New("only folders and anchors can be expelled")

	// ErrInvariant reports metadata that violates an invariant the
	// materialization code relies on.
	ErrInvariant = errors.New("metadata invariant violated")

	// ErrNotFound is returned when an object or path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating an object whose name is taken.
	ErrExists = errors.New("already exists")

	// ErrExpelled is returned when content is written below an expelled folder.
	ErrExpelled = errors.New("destination is expelled")

	// ErrTransactionActive is returned when an operation that manages its
	// own transactions is called while one is already open.
	ErrTransactionActive = errors.New("transaction already active")
)
