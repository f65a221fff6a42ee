package editline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(t *testing.T, lines ...string) *Document {
	t.Helper()
	doc := &Document{LineEnding: "\n"}
	doc.Lines = append(doc.Lines, lines...)
	doc.loadedHash = hashLines(nil)
	return doc
}

func TestInsertLines_ConvergesWhenAlreadyPresent(t *testing.T) {
	doc := newDoc(t, "alpha", "beta", "gamma")

	changed, err := InsertLines(doc, Region{Whole: true}, []string{"beta"}, InsertOptions{Type: InsertLiteral})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, doc.Lines)
}

func TestInsertLines_InsertsAfterAnchor(t *testing.T) {
	doc := newDoc(t, "alpha", "beta", "gamma")

	changed, err := InsertLines(doc, Region{Whole: true}, []string{"new"}, InsertOptions{
		Type:     InsertLiteral,
		Location: Location{Before: false, LineMatching: "^beta$"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"alpha", "beta", "new", "gamma"}, doc.Lines)

	// Running the same insertion again must converge: this is the
	// idempotence law every edit-line operation must satisfy.
	changed, err = InsertLines(doc, Region{Whole: true}, []string{"new"}, InsertOptions{
		Type:     InsertLiteral,
		Location: Location{Before: false, LineMatching: "^beta$"},
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestInsertLines_PreserveBlockRequiresWholeBlockAbsent(t *testing.T) {
	doc := newDoc(t, "one", "two")

	changed, err := InsertLines(doc, Region{Whole: true}, []string{"two", "three"}, InsertOptions{Type: InsertPreserveBlock})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"one", "two", "two", "three"}, doc.Lines)

	changed, err = InsertLines(doc, Region{Whole: true}, []string{"two", "three"}, InsertOptions{Type: InsertPreserveBlock})
	require.NoError(t, err)
	assert.False(t, changed, "the block is already present, so a second run must not duplicate it")
}

func TestDeleteLines_SingleLineRemovesEveryMatch(t *testing.T) {
	doc := newDoc(t, "keep", "drop", "keep", "drop")

	changed, err := DeleteLines(doc, Region{Whole: true}, []string{"drop"}, ExactMatch, LineFilters{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"keep", "keep"}, doc.Lines)

	changed, err = DeleteLines(doc, Region{Whole: true}, []string{"drop"}, ExactMatch, LineFilters{})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDeleteLines_BlockDeletesContiguousMatch(t *testing.T) {
	doc := newDoc(t, "header", "a", "b", "c", "footer")

	changed, err := DeleteLines(doc, Region{Whole: true}, []string{"a", "b", "c"}, ExactMatch, LineFilters{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"header", "footer"}, doc.Lines)
}

func TestReplacePatterns_NonConvergentWhenReplacementReintroducesMatch(t *testing.T) {
	doc := newDoc(t, "foofoo")

	result, err := ReplacePatterns(doc, Region{Whole: true}, "foo", "foo", OccurrencesAll)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.True(t, result.NonConvergent, "replacing foo with foo never stops matching")
}

func TestReplacePatterns_ConvergesOnSecondRun(t *testing.T) {
	doc := newDoc(t, "color: red")

	result, err := ReplacePatterns(doc, Region{Whole: true}, "red", "blue", OccurrencesAll)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.NonConvergent)
	assert.Equal(t, "color: blue", doc.Lines[0])

	result, err = ReplacePatterns(doc, Region{Whole: true}, "red", "blue", OccurrencesAll)
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestFieldEdits_SetColumnValue(t *testing.T) {
	doc := newDoc(t, "root:x:0:0:root:/root:/bin/bash")

	changed, err := FieldEdits(doc, Region{Whole: true}, FieldEditOptions{
		LineMatching: "^root:",
		Separator:    ":",
		SelectField:  7,
		Operation:    FieldSet,
		Value:        "/bin/zsh",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "root:x:0:0:root:/root:/bin/zsh", doc.Lines[0])

	changed, err = FieldEdits(doc, Region{Whole: true}, FieldEditOptions{
		LineMatching: "^root:",
		Separator:    ":",
		SelectField:  7,
		Operation:    FieldSet,
		Value:        "/bin/zsh",
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFieldEdits_ExtendColumnsPadsMissingFields(t *testing.T) {
	doc := newDoc(t, "a:b")

	changed, err := FieldEdits(doc, Region{Whole: true}, FieldEditOptions{
		LineMatching:  "^a:",
		Separator:     ":",
		SelectField:   4,
		Operation:     FieldSet,
		Value:         "d",
		ExtendColumns: true,
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "a:b::d", doc.Lines[0])
}

func TestFieldEdits_SubListAppendIsIdempotent(t *testing.T) {
	doc := newDoc(t, "group:x:100:alice,bob")

	opts := FieldEditOptions{
		LineMatching:   "^group:",
		Separator:      ":",
		SelectField:    4,
		ValueSeparator: ",",
		Operation:      FieldAppend,
		Value:          "carol",
	}
	changed, err := FieldEdits(doc, Region{Whole: true}, opts)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "group:x:100:alice,bob,carol", doc.Lines[0])

	changed, err = FieldEdits(doc, Region{Whole: true}, opts)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSelectRegion_ExcludesOutsideMarkers(t *testing.T) {
	doc := newDoc(t, "before", "# begin", "inside1", "inside2", "# end", "after")

	region, err := SelectRegion(doc, RegionSelector{SelectStart: "^# begin$", SelectEnd: "^# end$"})
	require.NoError(t, err)
	begin, end := region.Bounds(doc)
	assert.Equal(t, []string{"inside1", "inside2"}, doc.Lines[begin:end])
}

func TestDocument_SaveWritesAtomicallyAndPreservesLineEnding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.conf")
	require.NoError(t, os.WriteFile(path, []byte("one\r\ntwo\r\n"), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "\r\n", doc.LineEnding)

	doc.Lines = append(doc.Lines, "three")
	changed, err := doc.Save(false)
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\r\ntwo\r\nthree\r\n", string(data))

	changed, err = doc.Save(false)
	require.NoError(t, err)
	assert.False(t, changed)
}

type allowAllEvaluator struct{}

func (allowAllEvaluator) IsDefinedClass(expr string) (bool, error) {
	return expr == "any" || expr == "", nil
}

func TestExpandTemplate_BeginEndBlockMergesIntoOneInsertion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "motd.tmpl")
	content := "header line\n" +
		"[%CFEngine BEGIN %]\n" +
		"line one\n" +
		"line two\n" +
		"[%CFEngine END %]\n" +
		"footer line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	blocks, err := ExpandTemplate(allowAllEvaluator{}, path)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, []string{"header line"}, blocks[0].Lines)
	assert.Equal(t, []string{"line one", "line two"}, blocks[1].Lines)
	assert.Equal(t, []string{"footer line"}, blocks[2].Lines)
}

func TestExpandTemplate_RejectsNestedBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tmpl")
	content := "[%CFEngine BEGIN %]\nline\n[%CFEngine BEGIN %]\nline\n[%CFEngine END %]\n[%CFEngine END %]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := ExpandTemplate(allowAllEvaluator{}, path)
	assert.Error(t, err)
}

func TestExpandTemplate_ClassDirectiveSwitchesGuard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guarded.tmpl")
	content := "default line\n[%CFEngine linux::%]\nlinux only line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	blocks, err := ExpandTemplate(allowAllEvaluator{}, path)
	require.NoError(t, err)
	// allowAllEvaluator only accepts "any" or "", so the linux-guarded
	// line is dropped and only the default-context line survives.
	require.Len(t, blocks, 1)
	assert.Equal(t, []string{"default line"}, blocks[0].Lines)
}
