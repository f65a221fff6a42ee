package editline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FieldOperation selects how the sub-list produced by splitting a
// selected field on value_separator is mutated.
type FieldOperation string

const (
	FieldSet      FieldOperation = "set"
	FieldDelete   FieldOperation = "delete"
	FieldPrepend  FieldOperation = "prepend"
	FieldAlphanum FieldOperation = "alphanum"
	FieldAppend   FieldOperation = "append"
)

// FieldEditOptions bundles the attributes of one field_edits promise.
type FieldEditOptions struct {
	LineMatching   string // regex a line must match to be a candidate row
	Separator      string // regex splitting the line into fields
	SelectField    int    // 1-based
	ValueSeparator string // single character splitting the field into a sub-list; "" means the field is scalar
	Operation      FieldOperation
	Value          string
	ExtendColumns  bool
}

// FieldEdits applies a column-editing operation to every line in
// region that matches opts.LineMatching.
func FieldEdits(doc *Document, region Region, opts FieldEditOptions) (bool, error) {
	lineRe, err := regexp.Compile(opts.LineMatching)
	if err != nil {
		return false, fmt.Errorf("editline: field_edits line_matching: %w", err)
	}
	sepRe, err := regexp.Compile(opts.Separator)
	if err != nil {
		return false, fmt.Errorf("editline: field_edits separator: %w", err)
	}
	if opts.SelectField < 1 {
		return false, fmt.Errorf("editline: select_field must be 1-based and positive, got %d", opts.SelectField)
	}

	begin, end := region.Bounds(doc)
	changed := false
	for i := begin; i < end; i++ {
		line := doc.Lines[i]
		if !lineRe.MatchString(line) {
			continue
		}
		newLine, lineChanged, err := editFieldsInLine(line, sepRe, opts)
		if err != nil {
			return false, err
		}
		if lineChanged {
			doc.Lines[i] = newLine
			changed = true
		}
	}
	return changed, nil
}

func editFieldsInLine(line string, sepRe *regexp.Regexp, opts FieldEditOptions) (string, bool, error) {
	sepLiteral := sepRe.String()
	fields := sepRe.Split(line, -1)

	idx := opts.SelectField - 1
	if idx >= len(fields) {
		if !opts.ExtendColumns {
			return line, false, nil
		}
		for len(fields) <= idx {
			fields = append(fields, "")
		}
	}

	original := fields[idx]
	updated, changed := applyFieldOperation(original, opts)
	if !changed {
		return line, false, nil
	}
	fields[idx] = updated
	return strings.Join(fields, sepLiteral), true, nil
}

func applyFieldOperation(field string, opts FieldEditOptions) (string, bool) {
	if opts.ValueSeparator == "" {
		return applyScalarOperation(field, opts)
	}
	sub := splitNonEmpty(field, opts.ValueSeparator)
	newSub, changed := applyListOperation(sub, opts)
	if !changed {
		return field, false
	}
	return strings.Join(newSub, opts.ValueSeparator), true
}

func applyScalarOperation(field string, opts FieldEditOptions) (string, bool) {
	switch opts.Operation {
	case FieldDelete:
		if field == "" {
			return field, false
		}
		return "", true
	case FieldSet, "":
		if field == opts.Value {
			return field, false
		}
		return opts.Value, true
	default:
		// prepend/append/alphanum are sub-list operations; without a
		// value_separator the field is itself the whole sub-list.
		newSub, changed := applyListOperation([]string{field}, opts)
		if !changed {
			return field, false
		}
		return strings.Join(newSub, ""), true
	}
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

func applyListOperation(sub []string, opts FieldEditOptions) ([]string, bool) {
	switch opts.Operation {
	case FieldSet:
		if len(sub) == 1 && sub[0] == opts.Value {
			return sub, false
		}
		return []string{opts.Value}, true
	case FieldDelete:
		out := make([]string, 0, len(sub))
		found := false
		for _, v := range sub {
			if v == opts.Value {
				found = true
				continue
			}
			out = append(out, v)
		}
		return out, found
	case FieldPrepend:
		if len(sub) > 0 && sub[0] == opts.Value {
			return sub, false
		}
		return append([]string{opts.Value}, sub...), true
	case FieldAlphanum:
		// Idempotent sort-insert: insert opts.Value if absent, then
		// keep the sub-list sorted.
		present := false
		for _, v := range sub {
			if v == opts.Value {
				present = true
				break
			}
		}
		out := append([]string{}, sub...)
		if !present {
			out = append(out, opts.Value)
		}
		sort.Strings(out)
		if !present {
			return out, true
		}
		for i := range out {
			if out[i] != sub[i] {
				return out, true
			}
		}
		return sub, false
	default: // FieldAppend is the default operation
		for _, v := range sub {
			if v == opts.Value {
				return sub, false
			}
		}
		return append(append([]string{}, sub...), opts.Value), true
	}
}
