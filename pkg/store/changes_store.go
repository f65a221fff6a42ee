package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/promised/agent/pkg/changes"
)

// GetHash satisfies changes.Store.
func (s *SQLiteStore) GetHash(digestKey string) ([]byte, bool, error) {
	var digest []byte
	err := s.db.QueryRow(`SELECT digest FROM change_hashes WHERE digest_key = ?`, digestKey).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return digest, true, nil
}

// PutHash satisfies changes.Store.
func (s *SQLiteStore) PutHash(digestKey string, digest []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO change_hashes (digest_key, digest) VALUES (?, ?)
		 ON CONFLICT(digest_key) DO UPDATE SET digest = excluded.digest`,
		digestKey, digest,
	)
	return err
}

// GetStat satisfies changes.Store.
func (s *SQLiteStore) GetStat(path string) (changes.StatSnapshot, bool, error) {
	var snap changes.StatSnapshot
	var modTimeStr string
	err := s.db.QueryRow(
		`SELECT mode, uid, gid, size, mod_time FROM change_stats WHERE path = ?`, path,
	).Scan(&snap.Mode, &snap.UID, &snap.GID, &snap.Size, &modTimeStr)
	if errors.Is(err, sql.ErrNoRows) {
		return changes.StatSnapshot{}, false, nil
	}
	if err != nil {
		return changes.StatSnapshot{}, false, err
	}
	snap.ModTime, err = time.Parse(sqliteTimeLayout, modTimeStr)
	if err != nil {
		return changes.StatSnapshot{}, false, err
	}
	return snap, true, nil
}

// PutStat satisfies changes.Store.
func (s *SQLiteStore) PutStat(path string, snap changes.StatSnapshot) error {
	_, err := s.db.Exec(
		`INSERT INTO change_stats (path, mode, uid, gid, size, mod_time) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET mode = excluded.mode, uid = excluded.uid, gid = excluded.gid,
			size = excluded.size, mod_time = excluded.mod_time`,
		path, snap.Mode, snap.UID, snap.GID, snap.Size, snap.ModTime.UTC().Format(sqliteTimeLayout),
	)
	return err
}

// GetDirectoryListing satisfies changes.Store.
func (s *SQLiteStore) GetDirectoryListing(path string) ([]string, bool, error) {
	var blob string
	err := s.db.QueryRow(`SELECT basenames FROM change_directory_listings WHERE path = ?`, path).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if blob == "" {
		return []string{}, true, nil
	}
	return strings.Split(blob, "\n"), true, nil
}

// PutDirectoryListing satisfies changes.Store.
func (s *SQLiteStore) PutDirectoryListing(path string, basenames []string) error {
	_, err := s.db.Exec(
		`INSERT INTO change_directory_listings (path, basenames) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET basenames = excluded.basenames`,
		path, strings.Join(basenames, "\n"),
	)
	return err
}

// DeleteAll satisfies changes.Store: it clears every record kept about
// path, mirroring the legacy behavior of purging all traces of a
// removed file in one sweep.
func (s *SQLiteStore) DeleteAll(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM change_hashes WHERE digest_key LIKE 'H_%_' || ?`, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM change_stats WHERE path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM change_directory_listings WHERE path = ?`, path); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendLog satisfies changes.Store.
func (s *SQLiteStore) AppendLog(entry changes.LogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO change_log (timestamp, handle, path, state, message) VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(sqliteTimeLayout), entry.Handle, entry.Path, string(entry.State), entry.Message,
	)
	return err
}
