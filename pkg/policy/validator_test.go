package policy_test

import (
	"testing"

	"github.com/promised/agent/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ReservedBundleName(t *testing.T) {
	p := policy.New()
	p.AppendBundle("default", "agent", "sys", nil, "t.cf", policy.SourceOffset{Line: 1})

	errs := policy.Validate(p)
	require.Len(t, errs, 1)
	assert.Equal(t, policy.ErrReservedBundleName, errs[0].Kind)
}

func TestValidate_DuplicateBundle(t *testing.T) {
	p := policy.New()
	p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Path: "a.cf", Line: 1})
	p.AppendBundle("default", "agent", "main", nil, "b.cf", policy.SourceOffset{Path: "b.cf", Line: 1})

	errs := policy.Validate(p)
	require.Len(t, errs, 1)
	assert.Equal(t, policy.ErrDuplicateBundle, errs[0].Kind)
}

func TestValidate_DuplicateBodyFileTypeExempt(t *testing.T) {
	p := policy.New()
	p.AppendBody("default", "file", "header", nil, "a.cf", policy.SourceOffset{Line: 1})
	p.AppendBody("default", "file", "header", nil, "b.cf", policy.SourceOffset{Line: 1})

	errs := policy.Validate(p)
	assert.Empty(t, errs)
}

func TestValidate_EmptyPromiser(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("$()", policy.SourceOffset{Line: 3})
	require.Error(t, err)
}

func TestValidate_UndefinedBodyReference(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})
	promise, err := section.AppendPromise("/etc/motd", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	promise.AppendConstraint("perms", policy.SymbolRef("mode_644"), policy.SourceOffset{Line: 4})

	errs := policy.Validate(p)
	require.Len(t, errs, 1)
	assert.Equal(t, policy.ErrUndefinedBody, errs[0].Kind)
}

func TestValidate_RequiredComments(t *testing.T) {
	p := policy.New()
	control := p.AppendBody("default", "common", "control", nil, "a.cf", policy.SourceOffset{Line: 1})
	control.AppendConstraint("require_comments", policy.Scalar("true"), "any", policy.SourceOffset{Line: 2})

	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 3})
	section := b.AppendSection("files", policy.SourceOffset{Line: 4})
	_, err := section.AppendPromise("/etc/motd", policy.SourceOffset{Line: 5})
	require.NoError(t, err)

	errs := policy.Validate(p)
	require.Len(t, errs, 1)
	assert.Equal(t, policy.ErrMissingComment, errs[0].Kind)
}

func TestValidate_DuplicateHandle(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})

	p1, err := section.AppendPromise("/etc/a", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	p1.Handle = "shared_handle"

	p2, err := section.AppendPromise("/etc/b", policy.SourceOffset{Line: 4})
	require.NoError(t, err)
	p2.Handle = "shared_handle"

	errs := policy.Validate(p)
	require.Len(t, errs, 1)
	assert.Equal(t, policy.ErrDuplicateHandle, errs[0].Kind)
}

func TestValidate_DuplicateHandleExcludedWhenUnexpanded(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})

	p1, err := section.AppendPromise("/etc/a", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	p1.Handle = "$(handle_name)"

	p2, err := section.AppendPromise("/etc/b", policy.SourceOffset{Line: 4})
	require.NoError(t, err)
	p2.Handle = "$(handle_name)"

	errs := policy.Validate(p)
	assert.Empty(t, errs)
}

func TestConstraintMerge_IfVarClassIsAnd(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})
	promise, err := section.AppendPromise("/etc/a", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	promise.AppendConstraint("ifvarclass", policy.Scalar("linux"), policy.SourceOffset{Line: 4})
	promise.AppendConstraint("ifvarclass", policy.Scalar("debian"), policy.SourceOffset{Line: 5})

	require.Len(t, promise.Constraints, 1)
	assert.Equal(t, "(linux)&(debian)", promise.Constraints[0].RVal.String)
}

func TestConstraintMerge_OtherLValReplaces(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Line: 2})
	promise, err := section.AppendPromise("/etc/a", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	promise.AppendConstraint("comment", policy.Scalar("first"), policy.SourceOffset{Line: 4})
	promise.AppendConstraint("comment", policy.Scalar("second"), policy.SourceOffset{Line: 5})

	require.Len(t, promise.Constraints, 1)
	assert.Equal(t, "second", promise.Constraints[0].RVal.String)
}

func TestJSONRoundTrip(t *testing.T) {
	p := policy.New()
	b := p.AppendBundle("default", "agent", "main", []string{"host"}, "a.cf", policy.SourceOffset{Path: "a.cf", Line: 1})
	section := b.AppendSection("files", policy.SourceOffset{Path: "a.cf", Line: 2})
	promise, err := section.AppendPromise("/etc/motd", policy.SourceOffset{Path: "a.cf", Line: 3})
	require.NoError(t, err)
	promise.Comment = "keep the motd tidy"
	promise.AppendConstraint("create", policy.Scalar("true"), policy.SourceOffset{Path: "a.cf", Line: 4})

	data, err := policy.ToJSON(p)
	require.NoError(t, err)

	round, err := policy.FromJSON(data)
	require.NoError(t, err)

	again, err := policy.ToJSON(round)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}
