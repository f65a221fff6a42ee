// Package store provides the SQLite-backed persistence layer shared by
// the Lock Manager (pkg/locks), the Change Tracker (pkg/changes), and
// the Package Module Protocol's inventory cache (pkg/pkgmodule): one
// on-disk database, opened once per agent run, WAL-mode for concurrent
// readers during a run, with schema evolution through golang-migrate.
package store
