package changes_test

import (
	"testing"
	"time"

	"github.com/promised/agent/pkg/changes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	hashes      map[string][]byte
	stats       map[string]changes.StatSnapshot
	directories map[string][]string
	log         []changes.LogEntry
}

func newMemStore() *memStore {
	return &memStore{
		hashes:      make(map[string][]byte),
		stats:       make(map[string]changes.StatSnapshot),
		directories: make(map[string][]string),
	}
}

func (m *memStore) GetHash(key string) ([]byte, bool, error) {
	v, ok := m.hashes[key]
	return v, ok, nil
}

func (m *memStore) PutHash(key string, digest []byte) error {
	m.hashes[key] = append([]byte(nil), digest...)
	return nil
}

func (m *memStore) GetStat(path string) (changes.StatSnapshot, bool, error) {
	v, ok := m.stats[path]
	return v, ok, nil
}

func (m *memStore) PutStat(path string, snap changes.StatSnapshot) error {
	m.stats[path] = snap
	return nil
}

func (m *memStore) GetDirectoryListing(path string) ([]string, bool, error) {
	v, ok := m.directories[path]
	return v, ok, nil
}

func (m *memStore) PutDirectoryListing(path string, basenames []string) error {
	m.directories[path] = append([]string(nil), basenames...)
	return nil
}

func (m *memStore) DeleteAll(path string) error {
	delete(m.hashes, path)
	delete(m.stats, path)
	delete(m.directories, path)
	return nil
}

func (m *memStore) AppendLog(entry changes.LogEntry) error {
	m.log = append(m.log, entry)
	return nil
}

func TestCheckAndUpdateHash_FirstSightEstablishesBaseline(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	result, err := tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{1, 2, 3}, true)
	require.NoError(t, err)
	assert.True(t, result.FirstSeen)
	assert.False(t, result.Changed)
	assert.True(t, result.Updated)
}

func TestCheckAndUpdateHash_DetectsChangeAndUpdatesWhenAsked(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	_, err := tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{1, 2, 3}, true)
	require.NoError(t, err)

	result, err := tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{9, 9, 9}, true)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.True(t, result.Updated)

	result, err = tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{9, 9, 9}, true)
	require.NoError(t, err)
	assert.False(t, result.Changed, "the hash now matches what was just recorded")
}

func TestCheckAndUpdateHash_ChangeWithoutUpdateLeavesBaselineIntact(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	_, err := tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{1, 2, 3}, true)
	require.NoError(t, err)

	result, err := tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{9, 9, 9}, false)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.Updated)

	result, err = tracker.CheckAndUpdateHash("/etc/passwd", changes.DigestSHA256, []byte{9, 9, 9}, false)
	require.NoError(t, err)
	assert.True(t, result.Changed, "without update the recorded baseline never advances")
}

func TestCheckAndUpdateStats_ReportsWhichFacetChanged(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	base := changes.StatSnapshot{Mode: 0o644, UID: 0, GID: 0, Size: 100, ModTime: time.Unix(1000, 0)}
	_, err := tracker.CheckAndUpdateStats("/etc/shadow", base, true)
	require.NoError(t, err)

	changed := base
	changed.Mode = 0o600
	result, err := tracker.CheckAndUpdateStats("/etc/shadow", changed, true)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.True(t, result.ModeChanged)
	assert.False(t, result.OwnerChanged)
}

func TestCheckAndUpdateDirectory_DetectsNewAndRemovedFiles(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	_, err := tracker.CheckAndUpdateDirectory("/etc/cron.d", []string{"a", "b", "c"}, true)
	require.NoError(t, err)

	result, err := tracker.CheckAndUpdateDirectory("/etc/cron.d", []string{"b", "c", "d"}, true)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, []string{"d"}, result.NewFiles)
	assert.Equal(t, []string{"a"}, result.RemovedFiles)
}

func TestCheckAndUpdateDirectory_NoChangeWhenListingIsStable(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	_, err := tracker.CheckAndUpdateDirectory("/etc/cron.d", []string{"a", "b"}, true)
	require.NoError(t, err)

	result, err := tracker.CheckAndUpdateDirectory("/etc/cron.d", []string{"b", "a"}, true)
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestLogRemoval_ClearsAllRecordsAndAppendsLogEntry(t *testing.T) {
	store := newMemStore()
	tracker := changes.New(store)

	_, err := tracker.CheckAndUpdateHash("/tmp/gone", changes.DigestMD5, []byte{1}, true)
	require.NoError(t, err)

	require.NoError(t, tracker.LogRemoval("/tmp/gone", "promise-handle", time.Unix(5000, 0)))
	require.Len(t, store.log, 1)
	assert.Equal(t, changes.FileStateRemoved, store.log[0].State)
}

func TestResolveDigestKind_BestMeansSHA512(t *testing.T) {
	assert.Equal(t, changes.DigestSHA512, changes.ResolveDigestKind(changes.DigestBest))
	assert.Equal(t, changes.DigestMD5, changes.ResolveDigestKind(changes.DigestMD5))
}
