package database

import (
	"database/sql"
	"fmt"
	"strings"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// maxDepth bounds path resolution so corrupt parent links cannot loop forever.
const maxDepth = 4096

// Directory implements st.Directory on the objects and content_attrs tables.
type Directory struct {
	tm *txn.Manager
}

var _ st.Directory = (*Directory)(nil)

const objectColumns = "sidx, oid, type, parent_oid, name, expelled, child_sidx, fid"

func scanObject(scan func(dest ...any) error) (*st.Object, error) {
	var (
		o         st.Object
		childSidx sql.NullInt64
		fid       sql.NullString
	)
	err := scan(&o.SOID.Sidx, &o.SOID.OID, &o.Type, &o.Parent, &o.Name, &o.Expelled, &childSidx, &fid)
	if err != nil {
		return nil, err
	}
	o.ChildSidx = st.SIndex(childSidx.Int64)
	o.FID = fid.String
	return &o, nil
}

// Get returns the object, or nil if it does not exist.
func (d *Directory) Get(soid st.SOID) (*st.Object, error) {
	q := d.tm.Querier()

	var objs []*st.Object
	err := queryAll(q, func(rows *sql.Rows) error {
		o, err := scanObject(rows.Scan)
		if err != nil {
			return err
		}
		objs = append(objs, o)
		return nil
	}, "SELECT "+objectColumns+" FROM objects WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID)
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", soid, err)
	}
	if len(objs) == 0 {
		return nil, nil // Not found
	}

	o := objs[0]
	if o.Type == st.File {
		if o.Branches, err = d.branches(q, soid); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (d *Directory) branches(q txn.Querier, soid st.SOID) ([]st.KIndex, error) {
	var out []st.KIndex
	err := queryAll(q, func(rows *sql.Rows) error {
		var k st.KIndex
		if err := rows.Scan(&k); err != nil {
			return err
		}
		out = append(out, k)
		return nil
	}, "SELECT kidx FROM content_attrs WHERE sidx = ? AND oid = ? ORDER BY kidx", soid.Sidx, soid.OID)
	if err != nil {
		return nil, fmt.Errorf("listing branches of %s: %w", soid, err)
	}
	return out, nil
}

// Resolve walks parent links up to the top of the tree. When it reaches
// the root of a store that is mounted somewhere, it continues from the
// mounting anchor.
func (d *Directory) Resolve(soid st.SOID) (st.ResolvedPath, error) {
	q := d.tm.Querier()

	var (
		soids []st.SOID
		names []string
	)
	cur := soid
	for i := 0; i < maxDepth; i++ {
		if cur.IsRoot() {
			var anchor st.SOID
			found, err := queryRow(q, []any{&anchor.Sidx, &anchor.OID},
				"SELECT parent_sidx, parent_oid FROM store_parents WHERE sidx = ? ORDER BY rowid LIMIT 1", cur.Sidx)
			if err != nil {
				return st.ResolvedPath{}, fmt.Errorf("resolving store parent of %d: %w", cur.Sidx, err)
			}
			if !found {
				return reversePath(cur.Sidx, soids, names), nil
			}
			cur = anchor
			continue
		}

		var parent, name string
		found, err := queryRow(q, []any{&parent, &name},
			"SELECT parent_oid, name FROM objects WHERE sidx = ? AND oid = ?", cur.Sidx, cur.OID)
		if err != nil {
			return st.ResolvedPath{}, fmt.Errorf("resolving %s: %w", cur, err)
		}
		if !found {
			return st.ResolvedPath{}, fmt.Errorf("resolving %s: %w", cur, st.ErrNotFound)
		}
		soids = append(soids, cur)
		names = append(names, name)
		cur = st.SOID{Sidx: cur.Sidx, OID: st.OID(parent)}
	}
	return st.ResolvedPath{}, fmt.Errorf("resolving %s: path deeper than %d: %w", soid, maxDepth, st.ErrInvariant)
}

func reversePath(sidx st.SIndex, soids []st.SOID, names []string) st.ResolvedPath {
	p := st.NewRootPath(sidx)
	for i := len(soids) - 1; i >= 0; i-- {
		p.SOIDs = append(p.SOIDs, soids[i])
		p.Names = append(p.Names, names[i])
	}
	return p
}

// Children lists the objects below parent, files first and then by name.
func (d *Directory) Children(parent st.SOID) ([]*st.Object, error) {
	var out []*st.Object
	err := queryAll(d.tm.Querier(), func(rows *sql.Rows) error {
		o, err := scanObject(rows.Scan)
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	}, "SELECT "+objectColumns+` FROM objects
		WHERE sidx = ? AND parent_oid = ? AND oid != 'root'
		ORDER BY CASE WHEN type = ? THEN 0 ELSE 1 END, name`,
		parent.Sidx, parent.OID, st.File)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", parent, err)
	}

	for _, o := range out {
		if o.Type != st.File {
			continue
		}
		if o.Branches, err = d.branches(d.tm.Querier(), o.SOID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ChildByName returns the named child of parent, or nil.
func (d *Directory) ChildByName(sidx st.SIndex, parent st.OID, name string) (*st.Object, error) {
	var oid st.OID
	found, err := queryRow(d.tm.Querier(), []any{&oid},
		"SELECT oid FROM objects WHERE sidx = ? AND parent_oid = ? AND name = ? AND oid != 'root'",
		sidx, parent, name)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", name, err)
	}
	if !found {
		return nil, nil
	}
	return d.Get(st.SOID{Sidx: sidx, OID: oid})
}

// Create inserts a new object.
func (d *Directory) Create(o *st.Object, t *txn.Trans) error {
	var childSidx sql.NullInt64
	if o.Type == st.Anchor {
		childSidx = sql.NullInt64{Int64: int64(o.ChildSidx), Valid: true}
	}
	var fid sql.NullString
	if o.FID != "" {
		fid = sql.NullString{String: o.FID, Valid: true}
	}

	_, err := exec(t, "INSERT INTO objects ("+objectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		o.SOID.Sidx, o.SOID.OID, o.Type, o.Parent, o.Name, o.Expelled, childSidx, fid)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating %q: %w", o.Name, st.ErrExists)
		}
		return fmt.Errorf("creating object %s: %w", o.SOID, err)
	}
	return nil
}

// Move changes an object's parent and name.
func (d *Directory) Move(soid st.SOID, parent st.OID, name string, t *txn.Trans) error {
	res, err := exec(t, "UPDATE objects SET parent_oid = ?, name = ? WHERE sidx = ? AND oid = ?",
		parent, name, soid.Sidx, soid.OID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("moving to %q: %w", name, st.ErrExists)
		}
		return fmt.Errorf("moving object %s: %w", soid, err)
	}
	return requireRow(res, soid)
}

// SetExpelled sets the object's own expulsion flag.
func (d *Directory) SetExpelled(soid st.SOID, expelled bool, t *txn.Trans) error {
	res, err := exec(t, "UPDATE objects SET expelled = ? WHERE sidx = ? AND oid = ?",
		expelled, soid.Sidx, soid.OID)
	if err != nil {
		return fmt.Errorf("setting expelled flag of %s: %w", soid, err)
	}
	return requireRow(res, soid)
}

// SetPhysicalIdentity binds the object to a physical artifact.
func (d *Directory) SetPhysicalIdentity(soid st.SOID, fid string, t *txn.Trans) error {
	if _, err := exec(t, "UPDATE objects SET fid = ? WHERE sidx = ? AND oid = ?", fid, soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("setting physical identity of %s: %w", soid, err)
	}
	return nil
}

// ClearPhysicalIdentity unbinds the object from its physical artifact.
func (d *Directory) ClearPhysicalIdentity(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "UPDATE objects SET fid = NULL WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("clearing physical identity of %s: %w", soid, err)
	}
	return nil
}

// AddBranch records local content for a file branch.
func (d *Directory) AddBranch(soid st.SOID, kidx st.KIndex, size int64, t *txn.Trans) error {
	_, err := exec(t, `INSERT INTO content_attrs (sidx, oid, kidx, size) VALUES (?, ?, ?, ?)
		ON CONFLICT (sidx, oid, kidx) DO UPDATE SET size = excluded.size`,
		soid.Sidx, soid.OID, kidx, size)
	if err != nil {
		return fmt.Errorf("adding branch %d of %s: %w", kidx, soid, err)
	}
	return nil
}

// DeleteBranches removes every content branch record of a file.
func (d *Directory) DeleteBranches(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "DELETE FROM content_attrs WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("deleting branches of %s: %w", soid, err)
	}
	return nil
}

func requireRow(res sql.Result, soid st.SOID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("object %s: %w", soid, st.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
