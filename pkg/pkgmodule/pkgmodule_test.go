package pkgmodule_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/promised/agent/pkg/locks"
	"github.com/promised/agent/pkg/pkgmodule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is an in-memory pkgmodule.Cache for tests.
type memCache struct {
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (c *memCache) key(moduleName string, kind pkgmodule.CacheKind) string {
	return moduleName + "/" + string(kind)
}

func (c *memCache) Get(moduleName string, kind pkgmodule.CacheKind) (string, bool, error) {
	v, ok := c.data[c.key(moduleName, kind)]
	return v, ok, nil
}

func (c *memCache) Put(moduleName string, kind pkgmodule.CacheKind, inventory string) error {
	c.data[c.key(moduleName, kind)] = inventory
	return nil
}

// memLockStore is an in-memory locks.Store for tests.
type memLockStore struct {
	records map[string]locks.Record
}

func newMemLockStore() *memLockStore { return &memLockStore{records: make(map[string]locks.Record)} }

func (s *memLockStore) Get(name string) (locks.Record, bool, error) {
	r, ok := s.records[name]
	return r, ok, nil
}

func (s *memLockStore) Put(name string, rec locks.Record) error {
	s.records[name] = rec
	return nil
}

func (s *memLockStore) Delete(name string) error {
	delete(s.records, name)
	return nil
}

func (s *memLockStore) Iterate(fn func(name string, rec locks.Record) bool) error {
	for name, rec := range s.records {
		if !fn(name, rec) {
			break
		}
	}
	return nil
}

// writeFakeModule writes an executable shell script standing in for a
// package module adapter, whose behavior is selected by the supplied
// body (a POSIX shell case over "$1", the verb).
func writeFakeModule(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake package module scripts require a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-module.sh")
	script := "#!/bin/sh\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestNegotiateAPIVersion_ParsesSingleLineResponse(t *testing.T) {
	path := writeFakeModule(t, `
case "$1" in
  supports-api-version) echo "1" ;;
esac
`)
	w := pkgmodule.NewWrapper("fake", path)

	version, err := w.NegotiateAPIVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, 1, w.APIVersion)
}

func TestUpdateCache_PopulatesInventoryFromListInstalled(t *testing.T) {
	path := writeFakeModule(t, `
case "$1" in
  list-installed)
    echo "Name=bash"
    echo "Version=5.1"
    echo "Architecture=amd64"
    echo "Name=curl"
    echo "Version=7.81"
    echo "Architecture=amd64"
    ;;
esac
`)
	w := pkgmodule.NewWrapper("fake", path)
	cache := newMemCache()

	err := pkgmodule.UpdateCache(context.Background(), w, cache, nil, pkgmodule.CacheInstalled)
	require.NoError(t, err)

	blob, ok, err := cache.Get("fake", pkgmodule.CacheInstalled)
	require.NoError(t, err)
	require.True(t, ok)

	records := pkgmodule.ParseInventory(blob)
	require.Len(t, records, 2)
	assert.Equal(t, "bash", records[0].Name)
	assert.Equal(t, "5.1", records[0].Version)
	assert.Equal(t, "curl", records[1].Name)
}

func TestIsInstalled_MatchesOnNameVersionAndArch(t *testing.T) {
	cache := newMemCache()
	require.NoError(t, cache.Put("fake", pkgmodule.CacheInstalled, "bash,5.1,amd64\ncurl,7.81,amd64\n"))

	installed, err := pkgmodule.IsInstalled(cache, "fake", "bash", "5.1", "")
	require.NoError(t, err)
	assert.True(t, installed)

	installed, err = pkgmodule.IsInstalled(cache, "fake", "bash", "9.9", "")
	require.NoError(t, err)
	assert.False(t, installed)

	installed, err = pkgmodule.IsInstalled(cache, "fake", "vim", "", "")
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestActuator_Actuate_InstallsWhenNotPresent(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "installed-marker")
	path := writeFakeModule(t, `
MARKER="`+marker+`"
case "$1" in
  list-installed)
    if [ -f "$MARKER" ]; then
      echo "Name=htop"
      echo "Version=3.0"
      echo "Architecture=amd64"
    fi
    ;;
  list-updates-local) ;;
  repo-install)
    touch "$MARKER"
    ;;
esac
`)

	w := pkgmodule.NewWrapper("fake", path)
	cache := newMemCache()
	mgr := locks.New(newMemLockStore())
	actuator := pkgmodule.NewActuator(w, cache, mgr)

	now := time.Unix(1_700_000_000, 0)
	outcome, err := actuator.Actuate(context.Background(), pkgmodule.PackageRequest{
		Type:       pkgmodule.PackageTypeRepo,
		NameOrFile: "htop",
		Action:     pkgmodule.ActionPresent,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "CHANGE", string(outcome))
}

func TestActuator_Actuate_NoopWhenAlreadyInstalled(t *testing.T) {
	path := writeFakeModule(t, `
case "$1" in
  list-installed)
    echo "Name=htop"
    echo "Version=3.0"
    echo "Architecture=amd64"
    ;;
esac
`)
	w := pkgmodule.NewWrapper("fake", path)
	cache := newMemCache()
	mgr := locks.New(newMemLockStore())
	actuator := pkgmodule.NewActuator(w, cache, mgr)

	now := time.Unix(1_700_000_000, 0)
	outcome, err := actuator.Actuate(context.Background(), pkgmodule.PackageRequest{
		Type:       pkgmodule.PackageTypeRepo,
		NameOrFile: "htop",
		Action:     pkgmodule.ActionPresent,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "NOOP", string(outcome))
}

func TestActuator_Actuate_ReportsErrorsFromModule(t *testing.T) {
	path := writeFakeModule(t, `
case "$1" in
  list-installed) ;;
  repo-install)
    echo "Error=no_such_package"
    echo "ErrorMessage=package not found in any configured repository"
    ;;
esac
`)
	w := pkgmodule.NewWrapper("fake", path)
	cache := newMemCache()
	mgr := locks.New(newMemLockStore())
	actuator := pkgmodule.NewActuator(w, cache, mgr)

	now := time.Unix(1_700_000_000, 0)
	outcome, err := actuator.Actuate(context.Background(), pkgmodule.PackageRequest{
		Type:       pkgmodule.PackageTypeRepo,
		NameOrFile: "does-not-exist",
		Action:     pkgmodule.ActionPresent,
	}, now)
	assert.Error(t, err)
	assert.Equal(t, "FAIL", string(outcome))
}
