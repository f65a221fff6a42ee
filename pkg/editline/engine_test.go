package editline_test

import (
	"testing"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/editline"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopResolver struct{}

func (noopResolver) ResolveScalar(ctx *evalctx.EvalContext, s string) (string, error) { return s, nil }
func (noopResolver) ResolveList(ctx *evalctx.EvalContext, rv policy.RightValue) ([]string, bool, error) {
	if rv.Kind == policy.RightValueList {
		out := make([]string, len(rv.List))
		for i, v := range rv.List {
			out[i] = v.String
		}
		return out, true, nil
	}
	return nil, false, nil
}

// insertActuator drives real InsertLines/DeleteLines calls from the
// concrete promises the engine hands it, recording how many times each
// promise type fired so the test can assert the fixed pass order ran.
type recordingActuator struct {
	calls []string
}

func (r *recordingActuator) Actuate(doc *editline.Document, ctx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, bool, error) {
	r.calls = append(r.calls, promiseType+":"+concrete.Promiser)
	switch promiseType {
	case "insert_lines":
		changed, err := editline.InsertLines(doc, editline.Region{Whole: true}, []string{concrete.Promiser}, editline.InsertOptions{Type: editline.InsertLiteral})
		if err != nil {
			return agentlib.FAIL, false, err
		}
		if changed {
			return agentlib.CHANGE, true, nil
		}
		return agentlib.NOOP, false, nil
	case "delete_lines":
		changed, err := editline.DeleteLines(doc, editline.Region{Whole: true}, []string{concrete.Promiser}, editline.ExactMatch, editline.LineFilters{})
		if err != nil {
			return agentlib.FAIL, false, err
		}
		if changed {
			return agentlib.CHANGE, true, nil
		}
		return agentlib.NOOP, false, nil
	default:
		return agentlib.NOOP, false, nil
	}
}

func TestRun_DeletesBeforeInsertingWithinOnePass(t *testing.T) {
	doc := &editline.Document{Lines: []string{"keep", "stale"}}

	p := policy.New()
	bundle := p.AppendBundle("default", "edit_line", "fixup", nil, "a.cf", policy.SourceOffset{Line: 1})

	deleteSection := bundle.AppendSection("delete_lines", policy.SourceOffset{Line: 2})
	_, err := deleteSection.AppendPromise("stale", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	insertSection := bundle.AppendSection("insert_lines", policy.SourceOffset{Line: 4})
	_, err = insertSection.AppendPromise("fresh", policy.SourceOffset{Line: 5})
	require.NoError(t, err)

	ctx := evalctx.New(nil)
	actuator := &recordingActuator{}

	outcome, err := editline.Run(doc, ctx, bundle, noopResolver{}, actuator)
	require.NoError(t, err)
	assert.Equal(t, agentlib.CHANGE, outcome)
	assert.Equal(t, []string{"keep", "fresh"}, doc.Lines)
	// First pass changes the document, so a second confirmation pass
	// runs and finds both promises already converged.
	assert.Equal(t, []string{
		"delete_lines:stale", "insert_lines:fresh",
		"delete_lines:stale", "insert_lines:fresh",
	}, actuator.calls)
}

func TestRun_StopsAfterFixedPointWithNoChanges(t *testing.T) {
	doc := &editline.Document{Lines: []string{"already there"}}

	p := policy.New()
	bundle := p.AppendBundle("default", "edit_line", "fixup", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := bundle.AppendSection("insert_lines", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("already there", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	ctx := evalctx.New(nil)
	actuator := &recordingActuator{}

	outcome, err := editline.Run(doc, ctx, bundle, noopResolver{}, actuator)
	require.NoError(t, err)
	assert.Equal(t, agentlib.NOOP, outcome)
	assert.Len(t, actuator.calls, 1, "a converged promise is only evaluated once per pass, and only one pass should run")
}
