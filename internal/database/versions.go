package database

import (
	"fmt"

	"st-go/internal/st"
	"st-go/internal/txn"
)

// Versions implements st.VersionControl. Local versions live in versions,
// the newest version known on other devices in remote_versions, and
// versions of partial downloads in prefix_versions.
type Versions struct {
	tm *txn.Manager
}

var _ st.VersionControl = (*Versions)(nil)

// LocalVersion returns the local version of a file, or 0 if it has none.
func (v *Versions) LocalVersion(soid st.SOID) (int64, error) {
	var version int64
	if _, err := queryRow(v.tm.Querier(), []any{&version},
		"SELECT version FROM versions WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return 0, fmt.Errorf("reading local version of %s: %w", soid, err)
	}
	return version, nil
}

func (v *Versions) SetLocalVersion(soid st.SOID, version int64, t *txn.Trans) error {
	_, err := exec(t, `INSERT INTO versions (sidx, oid, version) VALUES (?, ?, ?)
		ON CONFLICT (sidx, oid) DO UPDATE SET version = excluded.version`,
		soid.Sidx, soid.OID, version)
	if err != nil {
		return fmt.Errorf("setting local version of %s: %w", soid, err)
	}
	return nil
}

func (v *Versions) ClearVersion(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "DELETE FROM versions WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("clearing local version of %s: %w", soid, err)
	}
	return nil
}

// SetRemoteVersion records version if it is newer than what is known.
func (v *Versions) SetRemoteVersion(soid st.SOID, version int64, t *txn.Trans) error {
	_, err := exec(t, `INSERT INTO remote_versions (sidx, oid, version) VALUES (?, ?, ?)
		ON CONFLICT (sidx, oid) DO UPDATE SET version = max(version, excluded.version)`,
		soid.Sidx, soid.OID, version)
	if err != nil {
		return fmt.Errorf("setting remote version of %s: %w", soid, err)
	}
	return nil
}

func (v *Versions) HasNewerRemoteThan(soid st.SOID, known int64) (bool, error) {
	var remote int64
	found, err := queryRow(v.tm.Querier(), []any{&remote},
		"SELECT version FROM remote_versions WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID)
	if err != nil {
		return false, fmt.Errorf("reading remote version of %s: %w", soid, err)
	}
	return found && remote > known, nil
}

// AddPendingDownloadVersion records the version a partial download of
// branch kidx belongs to.
func (v *Versions) AddPendingDownloadVersion(soid st.SOID, kidx st.KIndex, version int64, t *txn.Trans) error {
	_, err := exec(t, `INSERT INTO prefix_versions (sidx, oid, kidx, version) VALUES (?, ?, ?, ?)
		ON CONFLICT (sidx, oid, kidx) DO UPDATE SET version = excluded.version`,
		soid.Sidx, soid.OID, kidx, version)
	if err != nil {
		return fmt.Errorf("recording pending download of %s: %w", soid, err)
	}
	return nil
}

// PendingDownloadVersions counts the partial downloads recorded for soid.
func (v *Versions) PendingDownloadVersions(soid st.SOID) (int, error) {
	var n int
	if _, err := queryRow(v.tm.Querier(), []any{&n},
		"SELECT COUNT(*) FROM prefix_versions WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return 0, fmt.Errorf("counting pending downloads of %s: %w", soid, err)
	}
	return n, nil
}

func (v *Versions) DeleteAllPendingDownloadVersions(soid st.SOID, t *txn.Trans) error {
	if _, err := exec(t, "DELETE FROM prefix_versions WHERE sidx = ? AND oid = ?", soid.Sidx, soid.OID); err != nil {
		return fmt.Errorf("deleting pending downloads of %s: %w", soid, err)
	}
	return nil
}
