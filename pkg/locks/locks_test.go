package locks_test

import (
	"testing"
	"time"

	"github.com/promised/agent/pkg/locks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	records map[string]locks.Record
}

func newMemStore() *memStore { return &memStore{records: make(map[string]locks.Record)} }

func (s *memStore) Get(name string) (locks.Record, bool, error) {
	r, ok := s.records[name]
	return r, ok, nil
}

func (s *memStore) Put(name string, rec locks.Record) error {
	s.records[name] = rec
	return nil
}

func (s *memStore) Delete(name string) error {
	delete(s.records, name)
	return nil
}

func (s *memStore) Iterate(fn func(string, locks.Record) bool) error {
	for name, rec := range s.records {
		if !fn(name, rec) {
			break
		}
	}
	return nil
}

func TestAcquireLock_FirstAcquireSucceeds(t *testing.T) {
	m := locks.New(newMemStore())
	status, h, err := m.AcquireLock("test", 5, 60, time.Now())
	require.NoError(t, err)
	assert.Equal(t, locks.StatusAcquired, status)
	require.NotNil(t, h)
}

func TestAcquireLock_SkippedWithinIfElapsed(t *testing.T) {
	store := newMemStore()
	m := locks.New(store)
	now := time.Now()

	_, h, err := m.AcquireLock("test", 5, 60, now)
	require.NoError(t, err)
	require.NoError(t, m.YieldLock(h, now))

	status, _, err := m.AcquireLock("test", 5, 60, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, locks.StatusSkipped, status)
}

func TestAcquireLock_HeldWithinExpireAfter(t *testing.T) {
	store := newMemStore()
	m := locks.New(store)
	now := time.Now()

	_, _, err := m.AcquireLock("test", 5, 60, now)
	require.NoError(t, err)

	status, h, err := m.AcquireLock("test", 5, 60, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, locks.StatusHeld, status)
	assert.Nil(t, h)
}

func TestAcquireLock_ExpiredHeldLockReacquired(t *testing.T) {
	store := newMemStore()
	m := locks.New(store)
	now := time.Now()

	_, _, err := m.AcquireLock("test", 5, 60, now)
	require.NoError(t, err)

	status, h, err := m.AcquireLock("test", 5, 60, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, locks.StatusAcquired, status)
	require.NotNil(t, h)
}
