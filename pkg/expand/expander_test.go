package expand_test

import (
	"strings"
	"testing"

	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/expand"
	"github.com/promised/agent/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver expands $(name) references from a fixed variable table
// and treats any RightValueList as iterable; it never calls functions.
type fakeResolver struct {
	vars map[string][]string
}

func (f *fakeResolver) ResolveScalar(ctx *evalctx.EvalContext, s string) (string, error) {
	out := s
	for name, vals := range f.vars {
		ref := "$(" + name + ")"
		if strings.Contains(out, ref) && len(vals) > 0 {
			out = strings.ReplaceAll(out, ref, vals[0])
		}
	}
	return out, nil
}

func (f *fakeResolver) ResolveList(ctx *evalctx.EvalContext, rv policy.RightValue) ([]string, bool, error) {
	if rv.Kind == policy.RightValueList {
		out := make([]string, len(rv.List))
		for i, item := range rv.List {
			out[i] = item.String
		}
		return out, true, nil
	}
	if rv.Kind == policy.RightValueString {
		if vals, ok := f.vars[strings.TrimSuffix(strings.TrimPrefix(rv.String, "$("), ")")]; ok {
			return vals, true, nil
		}
	}
	return nil, false, nil
}

func TestIterator_CartesianProduct(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})
	promise, err := section.AppendPromise("/etc/base", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	promise.AppendConstraint("owners", policy.ListOf(policy.Scalar("alice"), policy.Scalar("bob")), policy.SourceOffset{Line: 4})
	promise.AppendConstraint("modes", policy.ListOf(policy.Scalar("0644"), policy.Scalar("0640")), policy.SourceOffset{Line: 5})

	ctx := evalctx.New(nil)
	resolver := &fakeResolver{vars: map[string][]string{}}
	it, err := expand.NewIterator(ctx, promise, resolver)
	require.NoError(t, err)

	var got []string
	for {
		concrete, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		owners := concrete.Constraint("owners").RVal.String
		modes := concrete.Constraint("modes").RVal.String
		got = append(got, owners+"/"+modes)
	}

	assert.ElementsMatch(t, []string{"alice/0644", "alice/0640", "bob/0644", "bob/0640"}, got)
}

func TestIterator_NoIterablesEmitsOneConcretePromise(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})
	promise, err := section.AppendPromise("/etc/motd", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	promise.AppendConstraint("create", policy.Scalar("true"), policy.SourceOffset{Line: 4})

	ctx := evalctx.New(nil)
	resolver := &fakeResolver{vars: map[string][]string{}}
	it, err := expand.NewIterator(ctx, promise, resolver)
	require.NoError(t, err)

	concrete, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/etc/motd", concrete.Promiser)

	_, ok, err = it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckInsertLinesAnchors_WarnsOnReuse(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "edit_line", "fix_sshd", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("insert_lines", policy.SourceOffset{Line: 2})

	p1, err := section.AppendPromise("PermitRootLogin no", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	p1.AppendConstraint("select_line_matching", policy.Scalar("^PermitRootLogin"), policy.SourceOffset{Line: 4})

	p2, err := section.AppendPromise("PermitRootLogin without-password", policy.SourceOffset{Line: 5})
	require.NoError(t, err)
	p2.AppendConstraint("select_line_matching", policy.Scalar("^PermitRootLogin"), policy.SourceOffset{Line: 6})

	warnings := expand.CheckInsertLinesAnchors(section)
	require.Len(t, warnings, 1)
}
