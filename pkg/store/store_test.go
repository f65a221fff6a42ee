package store

import (
	"context"
	"testing"
	"time"

	"github.com/promised/agent/pkg/changes"
	"github.com/promised/agent/pkg/locks"
	"github.com/promised/agent/pkg/pkgmodule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreLifecycle(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.HealthCheck(context.Background()))
}

func TestStoreMigrations(t *testing.T) {
	s := setupTestStore(t)
	tables := []string{"locks", "change_hashes", "change_stats", "change_directory_listings", "change_log", "package_cache"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		assert.NoErrorf(t, err, "table %s should exist", table)
	}
}

func TestLocksStore_RoundTrip(t *testing.T) {
	s := setupTestStore(t)

	_, ok, err := s.Get("cf_lock_global")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().Round(time.Second)
	rec := locks.Record{LastStarted: now}
	require.NoError(t, s.Put("cf_lock_global", rec))

	got, ok, err := s.Get("cf_lock_global")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.LastStarted.Equal(now))
	assert.True(t, got.LastCompleted.IsZero())

	rec.LastCompleted = now.Add(time.Minute)
	require.NoError(t, s.Put("cf_lock_global", rec))

	got, ok, err = s.Get("cf_lock_global")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.LastCompleted.Equal(rec.LastCompleted))

	require.NoError(t, s.Delete("cf_lock_global"))
	_, ok, err = s.Get("cf_lock_global")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocksStore_Iterate(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Put("a", locks.Record{}))
	require.NoError(t, s.Put("b", locks.Record{}))

	var seen []string
	require.NoError(t, s.Iterate(func(name string, _ locks.Record) bool {
		seen = append(seen, name)
		return true
	}))
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestChangesStore_HashRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	_, ok, err := s.GetHash("H_sha512_/etc/motd")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutHash("H_sha512_/etc/motd", []byte{1, 2, 3}))
	digest, ok, err := s.GetHash("H_sha512_/etc/motd")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, digest)
}

func TestChangesStore_StatRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	snap := changes.StatSnapshot{Mode: 0644, UID: 0, GID: 0, Size: 42, ModTime: time.Now().Round(time.Second)}

	require.NoError(t, s.PutStat("/etc/motd", snap))
	got, ok, err := s.GetStat("/etc/motd")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(snap))
}

func TestChangesStore_DirectoryListingRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.PutDirectoryListing("/etc/cron.d", []string{"a", "b", "c"}))
	got, ok, err := s.GetDirectoryListing("/etc/cron.d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestChangesStore_DeleteAllClearsEveryRecord(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.PutHash("H_sha512_/etc/motd", []byte{1}))
	require.NoError(t, s.PutStat("/etc/motd", changes.StatSnapshot{}))
	require.NoError(t, s.PutDirectoryListing("/etc/motd", []string{"x"}))

	require.NoError(t, s.DeleteAll("/etc/motd"))

	_, ok, err := s.GetStat("/etc/motd")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetDirectoryListing("/etc/motd")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChangesStore_AppendLog(t *testing.T) {
	s := setupTestStore(t)
	err := s.AppendLog(changes.LogEntry{
		Timestamp: time.Now(), Handle: "h1", Path: "/etc/motd",
		State: changes.FileStateNew, Message: "new file found",
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM change_log").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPackageCache_RoundTrip(t *testing.T) {
	s := setupTestStore(t)

	_, ok, err := s.Get("apt", pkgmodule.CacheInstalled)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("apt", pkgmodule.CacheInstalled, "htop,3.0.5,amd64\n"))
	inventory, ok, err := s.Get("apt", pkgmodule.CacheInstalled)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "htop,3.0.5,amd64\n", inventory)

	require.NoError(t, s.Put("apt", pkgmodule.CacheInstalled, "htop,3.0.6,amd64\n"))
	inventory, ok, err = s.Get("apt", pkgmodule.CacheInstalled)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "htop,3.0.6,amd64\n", inventory)
}
