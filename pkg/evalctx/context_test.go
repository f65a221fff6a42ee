package evalctx_test

import (
	"testing"
	"time"

	"github.com/promised/agent/pkg/evalctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDefinedClass_Basic(t *testing.T) {
	ctx := evalctx.New(nil)
	ctx.AddGlobalClass("linux")

	ok, err := ctx.IsDefinedClass("linux")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ctx.IsDefinedClass("!linux")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ctx.IsDefinedClass("any")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsDefinedClass_AndOr(t *testing.T) {
	ctx := evalctx.New(nil)
	ctx.AddGlobalClass("role_2")

	cases := map[string]bool{
		"role_1":            false,
		"role_2":            true,
		"role_1|role_2":     true,
		"role_1&role_2":     false,
		"role_1.role_2":     false,
		"!role_1&role_2":    true,
		"(role_1|role_2)&!role_1": true,
	}
	for expr, want := range cases {
		got, err := ctx.IsDefinedClass(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}
}

func TestIsDefinedClass_NegatedOverridesPositive(t *testing.T) {
	ctx := evalctx.New(nil)
	ctx.AddGlobalClass("debian")
	ctx.AddNegatedClass("debian")

	ok, err := ctx.IsDefinedClass("debian")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrivateClassFrame_ScopesToFrame(t *testing.T) {
	ctx := evalctx.New(nil)
	ctx.PushPrivateClassFrame()
	ctx.AddClass("scratch")

	ok, _ := ctx.IsDefinedClass("scratch")
	assert.True(t, ok)

	ctx.PopPrivateClassFrame()
	ok, _ = ctx.IsDefinedClass("scratch")
	assert.False(t, ok)
}

type fakeClassStore struct {
	entries map[string]struct {
		expiresAt time.Time
		policy    string
	}
}

func newFakeClassStore() *fakeClassStore {
	return &fakeClassStore{entries: map[string]struct {
		expiresAt time.Time
		policy    string
	}{}}
}

func (s *fakeClassStore) Get(name string) (time.Time, string, bool) {
	e, ok := s.entries[name]
	return e.expiresAt, e.policy, ok
}

func (s *fakeClassStore) Put(name string, expiresAt time.Time, policy string) error {
	s.entries[name] = struct {
		expiresAt time.Time
		policy    string
	}{expiresAt, policy}
	return nil
}

func (s *fakeClassStore) Delete(name string) error {
	delete(s.entries, name)
	return nil
}

func (s *fakeClassStore) List() ([]string, error) {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	return names, nil
}

func TestPersistentClasses_ExpiredPurgedOnLoad(t *testing.T) {
	store := newFakeClassStore()
	_ = store.Put("stale", time.Now().Add(-time.Hour), "reset")

	ctx := evalctx.New(store)
	ok, _ := ctx.IsDefinedClass("stale")
	assert.False(t, ok)

	_, _, exists := store.Get("stale")
	assert.False(t, exists)
}

func TestAddPersistentClass_PreservePolicyKeepsExpiry(t *testing.T) {
	store := newFakeClassStore()
	ctx := evalctx.New(store)

	require.NoError(t, ctx.AddPersistentClass("sticky", time.Hour, "reset"))
	firstExpiry, _, _ := store.Get("sticky")

	require.NoError(t, ctx.AddPersistentClass("sticky", 2*time.Hour, "preserve"))
	secondExpiry, _, _ := store.Get("sticky")

	assert.Equal(t, firstExpiry, secondExpiry)
}

func TestVariableLookup_ScopeQualified(t *testing.T) {
	ctx := evalctx.New(nil)
	ctx.EnterBundle("main")
	ctx.SetVariable("main", "default", "greeting", evalctx.StringValue("hello"))

	v, ok := ctx.LookupVariable("main.greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v.Str)

	_, ok = ctx.LookupVariable("default:main.greeting")
	assert.True(t, ok)
}
