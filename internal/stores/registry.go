// Package stores manages the lifecycle of stores: creation, the anchors
// that mount them, replication filter resets and deferred teardown.
package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// teardownTables lists every table holding per-store rows, in deletion order.
var teardownTables = []string{
	"staged_progress",
	"staged_entries",
	"excluded_objects",
	"fetch_queue",
	"prefix_versions",
	"remote_versions",
	"versions",
	"content_attrs",
	"objects",
}

// Registry implements st.StoreLifecycle on the metadata database.
type Registry struct {
	tm     *txn.Manager
	clock  st.Clock
	logger st.Logger
}

var (
	_ st.StoreRegistry     = (*Registry)(nil)
	_ st.ExpulsionListener = (*Registry)(nil)
)

// NewRegistry creates a Registry. clock may be nil, in which case the real
// clock is used.
func NewRegistry(tm *txn.Manager, clock st.Clock, logger st.Logger) *Registry {
	if clock == nil {
		clock = st.RealClock{}
	}
	if logger == nil {
		logger = st.NewNopLogger()
	}
	return &Registry{tm: tm, clock: clock, logger: logger}
}

// Create allocates a new store with its root and trash folders. The trash
// is created expelled.
func (r *Registry) Create(name string, t *txn.Trans) (st.SIndex, error) {
	var sidx st.SIndex
	err := t.Tx().QueryRowContext(context.Background(),
		"SELECT COALESCE(MAX(sidx), 0) + 1 FROM stores").Scan(&sidx)
	if err != nil {
		return 0, fmt.Errorf("allocating store index: %w", err)
	}
	if err := r.insert(sidx, name, t); err != nil {
		return 0, err
	}
	return sidx, nil
}

// CreateWithIndex creates store sidx if it does not exist yet.
func (r *Registry) CreateWithIndex(sidx st.SIndex, name string, t *txn.Trans) error {
	ok, err := r.Exists(sidx)
	if err != nil || ok {
		return err
	}
	return r.insert(sidx, name, t)
}

func (r *Registry) insert(sidx st.SIndex, name string, t *txn.Trans) error {
	ctx := context.Background()
	tx := t.Tx()

	if _, err := tx.ExecContext(ctx, "INSERT INTO stores (sidx, name, created_at) VALUES (?, ?, ?)",
		sidx, name, r.clock.Now().UTC()); err != nil {
		return fmt.Errorf("creating store %d: %w", sidx, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO objects (sidx, oid, type, parent_oid, name, expelled) VALUES (?, ?, ?, ?, '', 0)",
		sidx, st.RootOID, st.Folder, st.RootOID); err != nil {
		return fmt.Errorf("creating root of store %d: %w", sidx, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO objects (sidx, oid, type, parent_oid, name, expelled) VALUES (?, ?, ?, ?, ?, 1)",
		sidx, st.TrashOID, st.Folder, st.RootOID, st.TrashName); err != nil {
		return fmt.Errorf("creating trash of store %d: %w", sidx, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO excluded_objects (sidx, oid) VALUES (?, ?)",
		sidx, st.TrashOID); err != nil {
		return fmt.Errorf("excluding trash of store %d: %w", sidx, err)
	}

	r.logger.Info("store created", "sidx", sidx, "name", name)
	return nil
}

// Exists reports whether the store's metadata is still present.
func (r *Registry) Exists(sidx st.SIndex) (bool, error) {
	var one int
	err := r.tm.Querier().QueryRowContext(context.Background(),
		"SELECT 1 FROM stores WHERE sidx = ?", sidx).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking store %d: %w", sidx, err)
	}
	return true, nil
}

// Get returns the store, or nil if it does not exist.
func (r *Registry) Get(sidx st.SIndex) (*st.Store, error) {
	var s st.Store
	err := r.tm.Querier().QueryRowContext(context.Background(),
		"SELECT sidx, name, created_at, collector_epoch, teardown_pending FROM stores WHERE sidx = ?", sidx).
		Scan(&s.Sidx, &s.Name, &s.CreatedAt, &s.CollectorEpoch, &s.TeardownPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("getting store %d: %w", sidx, err)
	}
	return &s, nil
}

// List returns every known store ordered by index.
func (r *Registry) List() ([]*st.Store, error) {
	rows, err := r.tm.Querier().QueryContext(context.Background(),
		"SELECT sidx, name, created_at, collector_epoch, teardown_pending FROM stores ORDER BY sidx")
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	defer rows.Close()

	var out []*st.Store
	for rows.Next() {
		var s st.Store
		if err := rows.Scan(&s.Sidx, &s.Name, &s.CreatedAt, &s.CollectorEpoch, &s.TeardownPending); err != nil {
			return nil, fmt.Errorf("scanning store: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ResetReplicationFilters bumps the store's collector epoch so content
// collection restarts from every device.
func (r *Registry) ResetReplicationFilters(sidx st.SIndex, t *txn.Trans) error {
	if _, err := t.Tx().ExecContext(context.Background(),
		"UPDATE stores SET collector_epoch = collector_epoch + 1 WHERE sidx = ?", sidx); err != nil {
		return fmt.Errorf("resetting collector filters of store %d: %w", sidx, err)
	}
	r.logger.Debug("collector filters reset", "sidx", sidx)
	return nil
}

// CollectorEpoch returns how many times the store's filters were reset.
func (r *Registry) CollectorEpoch(sidx st.SIndex) (int64, error) {
	s, err := r.Get(sidx)
	if err != nil {
		return 0, err
	}
	if s == nil {
		return 0, fmt.Errorf("store %d: %w", sidx, st.ErrNotFound)
	}
	return s.CollectorEpoch, nil
}

// RegisterParent records that child is mounted by anchor parent. A store
// that is mounted again is no longer pending teardown.
func (r *Registry) RegisterParent(child st.SIndex, parent st.SOID, name string, t *txn.Trans) error {
	if err := r.CreateWithIndex(child, name, t); err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := t.Tx().ExecContext(ctx,
		"INSERT OR REPLACE INTO store_parents (sidx, parent_sidx, parent_oid, name) VALUES (?, ?, ?, ?)",
		child, parent.Sidx, parent.OID, name); err != nil {
		return fmt.Errorf("registering parent of store %d: %w", child, err)
	}
	if _, err := t.Tx().ExecContext(ctx,
		"UPDATE stores SET teardown_pending = 0 WHERE sidx = ?", child); err != nil {
		return fmt.Errorf("clearing teardown of store %d: %w", child, err)
	}
	return nil
}

// MarkForTeardown flags a store whose metadata should be deleted once its
// staged cleanup is done.
func (r *Registry) MarkForTeardown(sidx st.SIndex, t *txn.Trans) error {
	if _, err := t.Tx().ExecContext(context.Background(),
		"UPDATE stores SET teardown_pending = 1 WHERE sidx = ?", sidx); err != nil {
		return fmt.Errorf("marking store %d for teardown: %w", sidx, err)
	}
	return nil
}

// PendingTeardown lists stores marked for teardown.
func (r *Registry) PendingTeardown() ([]st.SIndex, error) {
	rows, err := r.tm.Querier().QueryContext(context.Background(),
		"SELECT sidx FROM stores WHERE teardown_pending = 1 ORDER BY sidx")
	if err != nil {
		return nil, fmt.Errorf("listing pending teardowns: %w", err)
	}
	defer rows.Close()

	var out []st.SIndex
	for rows.Next() {
		var sidx st.SIndex
		if err := rows.Scan(&sidx); err != nil {
			return nil, err
		}
		out = append(out, sidx)
	}
	return out, rows.Err()
}

// RunDeferredTeardown deletes every metadata row of sidx if it is marked
// for teardown. Stores mounted inside it are marked in turn.
func (r *Registry) RunDeferredTeardown(sidx st.SIndex, t *txn.Trans) error {
	s, err := r.Get(sidx)
	if err != nil {
		return err
	}
	if s == nil || !s.TeardownPending {
		return nil
	}

	children, err := r.childStores(t, sidx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := r.MarkForTeardown(child, t); err != nil {
			return err
		}
	}

	ctx := context.Background()
	tx := t.Tx()
	for _, table := range teardownTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE sidx = ?", sidx); err != nil {
			return fmt.Errorf("tearing down %s of store %d: %w", table, sidx, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM store_parents WHERE sidx = ? OR parent_sidx = ?", sidx, sidx); err != nil {
		return fmt.Errorf("tearing down parents of store %d: %w", sidx, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE sidx = ?", sidx); err != nil {
		return fmt.Errorf("deleting store %d: %w", sidx, err)
	}

	r.logger.Info("store torn down", "sidx", sidx, "name", s.Name, "nested", len(children))
	return nil
}

func (r *Registry) childStores(t *txn.Trans, sidx st.SIndex) ([]st.SIndex, error) {
	rows, err := t.Tx().QueryContext(context.Background(),
		"SELECT DISTINCT sidx FROM store_parents WHERE parent_sidx = ? AND sidx != ?", sidx, sidx)
	if err != nil {
		return nil, fmt.Errorf("listing child stores of %d: %w", sidx, err)
	}
	defer rows.Close()

	var out []st.SIndex
	for rows.Next() {
		var c st.SIndex
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AnchorExpelled marks the store mounted by an expelled anchor for teardown.
func (r *Registry) AnchorExpelled(anchor st.SOID, child st.SIndex, t *txn.Trans) error {
	r.logger.Debug("anchor expelled", "anchor", anchor, "child", child)
	return r.MarkForTeardown(child, t)
}
