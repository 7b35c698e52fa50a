package staging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"st-go/internal/codec"
	"st-go/internal/st"
	"st-go/internal/txn"
)

// pathRecord is the persisted form of a resolved path. Integer keys keep
// the blob compact and independent of Go field names.
type pathRecord struct {
	Sidx  int64        `cbor:"1,keyasint"`
	SOIDs []soidRecord `cbor:"2,keyasint"`
	Names []string     `cbor:"3,keyasint"`
}

type soidRecord struct {
	Sidx int64  `cbor:"1,keyasint"`
	OID  string `cbor:"2,keyasint"`
}

func encodePath(p st.ResolvedPath) ([]byte, error) {
	rec := pathRecord{Sidx: int64(p.Sidx), Names: p.Names}
	for _, s := range p.SOIDs {
		rec.SOIDs = append(rec.SOIDs, soidRecord{Sidx: int64(s.Sidx), OID: string(s.OID)})
	}
	return codec.Marshal(rec)
}

func decodePath(data []byte) (st.ResolvedPath, error) {
	var rec pathRecord
	if err := codec.Unmarshal(data, &rec); err != nil {
		return st.ResolvedPath{}, err
	}
	if len(rec.SOIDs) != len(rec.Names) {
		return st.ResolvedPath{}, fmt.Errorf("path has %d objects but %d names", len(rec.SOIDs), len(rec.Names))
	}
	p := st.ResolvedPath{Sidx: st.SIndex(rec.Sidx), Names: rec.Names}
	for _, s := range rec.SOIDs {
		p.SOIDs = append(p.SOIDs, st.SOID{Sidx: st.SIndex(s.Sidx), OID: st.OID(s.OID)})
	}
	return p, nil
}

// sqliteStore keeps staged entries in the staged_entries and
// staged_progress tables of the metadata database.
type sqliteStore struct {
	tm *txn.Manager
}

var _ stagingStore = (*sqliteStore)(nil)

func newSQLiteStore(tm *txn.Manager) *sqliteStore {
	return &sqliteStore{tm: tm}
}

func (s *sqliteStore) Add(e *st.StagedEntry, t *txn.Trans) error {
	blob, err := encodePath(e.Path)
	if err != nil {
		return fmt.Errorf("encoding path of %s: %w", e.SOID, err)
	}
	res, err := t.Tx().ExecContext(context.Background(),
		"INSERT INTO staged_entries (sidx, oid, path, preserve_history) VALUES (?, ?, ?, ?)",
		e.SOID.Sidx, e.SOID.OID, blob, e.PreserveHistory)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("staging %s: %w", e.SOID, st.ErrExists)
		}
		return fmt.Errorf("staging %s: %w", e.SOID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sequence of %s: %w", e.SOID, err)
	}
	e.Seq = seq
	return nil
}

func (s *sqliteStore) Remove(soid st.SOID, t *txn.Trans) error {
	if _, err := t.Tx().ExecContext(context.Background(),
		"DELETE FROM staged_entries WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("unstaging %s: %w", soid, err)
	}
	return s.ClearProgress(soid, t)
}

func (s *sqliteStore) Get(soid st.SOID) (*st.StagedEntry, error) {
	entries, err := s.query("WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (s *sqliteStore) Next(after int64) (*st.StagedEntry, error) {
	entries, err := s.query("WHERE seq > ? ORDER BY seq LIMIT 1", after)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (s *sqliteStore) List() ([]*st.StagedEntry, error) {
	return s.query("ORDER BY seq")
}

func (s *sqliteStore) query(where string, args ...any) ([]*st.StagedEntry, error) {
	rows, err := s.tm.Querier().QueryContext(context.Background(),
		"SELECT seq, sidx, oid, path, preserve_history FROM staged_entries "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying staged entries: %w", err)
	}
	defer rows.Close()

	var out []*st.StagedEntry
	for rows.Next() {
		var (
			e    st.StagedEntry
			blob []byte
		)
		if err := rows.Scan(&e.Seq, &e.SOID.Sidx, &e.SOID.OID, &blob, &e.PreserveHistory); err != nil {
			return nil, fmt.Errorf("scanning staged entry: %w", err)
		}
		if e.Path, err = decodePath(blob); err != nil {
			return nil, fmt.Errorf("decoding path of %s: %w", e.SOID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkCleaned(entry st.SOID, oid st.OID, t *txn.Trans) error {
	if _, err := t.Tx().ExecContext(context.Background(),
		"INSERT OR IGNORE INTO staged_progress (sidx, oid, cleaned_oid) VALUES (?, ?, ?)",
		entry.Sidx, entry.OID, oid); err != nil {
		return fmt.Errorf("recording progress of %s: %w", entry, err)
	}
	return nil
}

func (s *sqliteStore) IsCleaned(entry st.SOID, oid st.OID) (bool, error) {
	var one int
	err := s.tm.Querier().QueryRowContext(context.Background(),
		"SELECT 1 FROM staged_progress WHERE sidx = ? AND oid = ? AND cleaned_oid = ?",
		entry.Sidx, entry.OID, oid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading progress of %s: %w", entry, err)
	}
	return true, nil
}

func (s *sqliteStore) ClearProgress(entry st.SOID, t *txn.Trans) error {
	if _, err := t.Tx().ExecContext(context.Background(),
		"DELETE FROM staged_progress WHERE sidx = ? AND oid = ?", entry.Sidx, entry.OID); err != nil {
		return fmt.Errorf("clearing progress of %s: %w", entry, err)
	}
	return nil
}
