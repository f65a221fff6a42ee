package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/promised/agent/pkg/pkgmodule"
)

// Get satisfies pkgmodule.Cache.
func (s *SQLiteStore) Get(moduleName string, kind pkgmodule.CacheKind) (string, bool, error) {
	var inventory string
	err := s.db.QueryRow(
		`SELECT inventory FROM package_cache WHERE module_name = ? AND kind = ?`, moduleName, string(kind),
	).Scan(&inventory)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return inventory, true, nil
}

// Put satisfies pkgmodule.Cache.
func (s *SQLiteStore) Put(moduleName string, kind pkgmodule.CacheKind, inventory string) error {
	_, err := s.db.Exec(
		`INSERT INTO package_cache (module_name, kind, inventory, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(module_name, kind) DO UPDATE SET inventory = excluded.inventory, updated_at = excluded.updated_at`,
		moduleName, string(kind), inventory, time.Now().UTC().Format(sqliteTimeLayout),
	)
	return err
}
