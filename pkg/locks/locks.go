// Package locks implements the Lock Manager (C6): named locks with
// ifelapsed/expireafter throttling semantics backed by a small
// key-value store.
package locks

import (
	"time"

	"github.com/promised/agent/pkg/agentlib"
)

// GlobalPackageLockName is the lock name package actuators take
// before calling a package module, preserved verbatim from historical
// convention.
const GlobalPackageLockName = "cf_lock_global"

// Record is the logical record backing one lock name: the started and
// completed timestamps. Store implementations choose their own on-disk
// encoding; this struct is the in-memory contract.
type Record struct {
	LastStarted   time.Time
	LastCompleted time.Time
}

// Store is the atomic key-value contract a Lock Manager is built on.
type Store interface {
	Get(name string) (Record, bool, error)
	Put(name string, rec Record) error
	Delete(name string) error
	Iterate(func(name string, rec Record) bool) error
}

// Status is the result of an AcquireLock call.
type Status string

const (
	StatusAcquired Status = "acquired"
	StatusSkipped  Status = "skipped" // ifelapsed has not passed
	StatusHeld     Status = "held"    // another promise holds the lock within expireafter
)

// Handle represents a held lock; callers must call Manager.YieldLock
// with it (or its Name) once the guarded operation completes.
type Handle struct {
	Name string
}

// Manager is the Lock Manager (C6).
type Manager struct {
	store Store
}

// New builds a Manager backed by store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// AcquireLock applies ifelapsed/expireafter throttling: it refuses to
// reacquire a lock whose last completion was too recent (ifelapsed),
// and refuses to steal a lock currently held within its expireafter
// window. ifelapsed and expireafter are given in minutes, matching the
// policy attribute units; now is injected for testability.
func (m *Manager) AcquireLock(name string, ifelapsed, expireafter int, now time.Time) (Status, *Handle, error) {
	rec, exists, err := m.store.Get(name)
	if err != nil {
		return "", nil, agentlib.NewTransientError("locks: reading lock %q: %v", name, err).WithCode(agentlib.CodeInternal)
	}

	if exists && !rec.LastCompleted.IsZero() {
		elapsed := now.Sub(rec.LastCompleted)
		if elapsed < time.Duration(ifelapsed)*time.Minute {
			return StatusSkipped, nil, nil
		}
	}

	if exists && !rec.LastStarted.IsZero() {
		heldFor := now.Sub(rec.LastStarted)
		if heldFor < time.Duration(expireafter)*time.Minute {
			return StatusHeld, nil, nil
		}
	}

	rec.LastStarted = now
	if err := m.store.Put(name, rec); err != nil {
		return "", nil, agentlib.NewTransientError("locks: writing lock %q: %v", name, err).WithCode(agentlib.CodeInternal)
	}
	return StatusAcquired, &Handle{Name: name}, nil
}

// YieldLock marks the lock completed and clears its "started" marker.
func (m *Manager) YieldLock(h *Handle, now time.Time) error {
	if h == nil {
		return nil
	}
	rec, _, err := m.store.Get(h.Name)
	if err != nil {
		return agentlib.NewTransientError("locks: reading lock %q: %v", h.Name, err).WithCode(agentlib.CodeInternal)
	}
	rec.LastCompleted = now
	rec.LastStarted = time.Time{}
	if err := m.store.Put(h.Name, rec); err != nil {
		return agentlib.NewTransientError("locks: writing lock %q: %v", h.Name, err).WithCode(agentlib.CodeInternal)
	}
	return nil
}

// PromiseLockName builds the per-promise lock name keyed by promiser
// and filename, as used for non-global locks.
func PromiseLockName(promiser, filename string) string {
	if filename == "" {
		return "promise:" + promiser
	}
	return "promise:" + promiser + ":" + filename
}

// AcquireGlobalPackageLock acquires the well-known global package
// lock, mirroring AcquireGlobalPackagePromiseLock in the original
// implementation: package actuators never actuate concurrently with
// each other even across promises.
func (m *Manager) AcquireGlobalPackageLock(ifelapsed, expireafter int, now time.Time) (Status, *Handle, error) {
	return m.AcquireLock(GlobalPackageLockName, ifelapsed, expireafter, now)
}
