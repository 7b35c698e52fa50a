package database

import (
	"database/sql"
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// ExclusionSet implements st.ExclusionSet on the excluded_objects table.
type ExclusionSet struct {
	tm *txn.Manager
}

var _ st.ExclusionSet = (*ExclusionSet)(nil)

func (e *ExclusionSet) Add(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "INSERT OR IGNORE INTO excluded_objects (sidx, oid) VALUES (?, ?)", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("excluding %s: %w", soid, err)
	}
	return nil
}

func (e *ExclusionSet) Remove(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "DELETE FROM excluded_objects WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("including %s: %w", soid, err)
	}
	return nil
}

func (e *ExclusionSet) Contains(soid st.SOID) (bool, error) {
	var one int
	found, err := queryRow(e.tm.Querier(), []any{&one},
		"SELECT 1 FROM excluded_objects WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID)
	if err != nil {
		return false, fmt.Errorf("checking exclusion of %s: %w", soid, err)
	}
	return found, nil
}

func (e *ExclusionSet) List() ([]st.SOID, error) {
	var out []st.SOID
	err := queryAll(e.tm.Querier(), func(rows *sql.Rows) error {
		var s st.SOID
		if err := rows.Scan(&s.Sidx, &s.OID); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}, "SELECT sidx, oid FROM excluded_objects ORDER BY sidx, oid")
	if err != nil {
		return nil, fmt.Errorf("listing excluded objects: %w", err)
	}
	return out, nil
}
