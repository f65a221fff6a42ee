package editline

import (
	"fmt"
	"regexp"
)

// InsertType selects how the promiser's lines are treated as a unit
// for convergence and multi-line matching.
type InsertType string

const (
	InsertLiteral            InsertType = "literal"
	InsertPreserveAllLines    InsertType = "preserve_all_lines"
	InsertPreserveBlock       InsertType = "preserve_block"
	InsertFile                InsertType = "file"
	InsertFilePreserveBlock   InsertType = "file_preserve_block"
)

// AnchorEdge selects whether an anchor match is taken as the first or
// last match when multiple lines match line_matching.
type AnchorEdge string

const (
	AnchorFirst AnchorEdge = "first"
	AnchorLast  AnchorEdge = "last"
)

// Location is the before/after placement relative to an optional
// anchor.
type Location struct {
	Before      bool // false means "after"
	LineMatching string
	Edge        AnchorEdge
}

// InsertOptions bundles every attribute relevant to one insert_lines
// promise.
type InsertOptions struct {
	Type      InsertType
	Location  Location
	Policy    WhitespacePolicy
	Filters   LineFilters
}

// InsertLines inserts promiserLines into region unless an equivalent
// block is already present. promiserLines is the (possibly multi-line)
// promiser split into individual lines. It returns whether the
// document changed.
func InsertLines(doc *Document, region Region, promiserLines []string, opts InsertOptions) (bool, error) {
	if len(promiserLines) == 0 {
		return false, nil
	}
	if err := opts.Filters.Validate(); err != nil {
		return false, err
	}

	begin, end := region.Bounds(doc)

	if len(doc.Lines) == 0 {
		// "for an empty file, unconditionally prepend."
		doc.Lines = append(doc.Lines, promiserLines...)
		return true, nil
	}

	already, err := blockPresent(doc.Lines[begin:end], promiserLines, opts.Type, opts.Policy)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	insertAt, err := resolveInsertionPoint(doc, begin, end, opts.Location)
	if err != nil {
		return false, err
	}

	doc.Lines = spliceInsert(doc.Lines, insertAt, promiserLines)
	return true, nil
}

// blockPresent tests whether promiserLines already occur, as a
// contiguous block, somewhere in region under the whitespace policy
// applicable to insertType. For *_preserve_block types this demands
// the full block match; for literal/preserve_all_lines each promiser
// line is checked independently as present somewhere in the region
// (matching the legacy behavior that those types converge per-line).
func blockPresent(regionLines []string, promiserLines []string, insertType InsertType, policy WhitespacePolicy) (bool, error) {
	blockTypes := insertType == InsertPreserveBlock || insertType == InsertFilePreserveBlock
	if blockTypes {
		return containsBlock(regionLines, promiserLines, policy)
	}
	for _, want := range promiserLines {
		found, err := containsLine(regionLines, want, policy)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func containsLine(lines []string, want string, policy WhitespacePolicy) (bool, error) {
	re, err := whitespacePattern(want, policy)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if re.MatchString(line) {
			return true, nil
		}
	}
	return false, nil
}

func containsBlock(lines []string, block []string, policy WhitespacePolicy) (bool, error) {
	if len(block) > len(lines) {
		return false, nil
	}
	patterns := make([]*regexp.Regexp, len(block))
	for i, want := range block {
		re, err := whitespacePattern(want, policy)
		if err != nil {
			return false, err
		}
		patterns[i] = re
	}
	for start := 0; start+len(block) <= len(lines); start++ {
		matched := true
		for i, re := range patterns {
			if !re.MatchString(lines[start+i]) {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// resolveInsertionPoint finds the absolute index at which to splice
// in new lines, honoring the anchor (line_matching) and before/after
// placement. With no anchor, insertion happens at the region's start
// (before) or end (after).
func resolveInsertionPoint(doc *Document, begin, end int, loc Location) (int, error) {
	if loc.LineMatching == "" {
		if loc.Before {
			return begin, nil
		}
		return end, nil
	}

	re, err := regexp.Compile(loc.LineMatching)
	if err != nil {
		return 0, fmt.Errorf("editline: location.line_matching: %w", err)
	}

	anchor := -1
	if loc.Edge == AnchorLast {
		for i := end - 1; i >= begin; i-- {
			if re.MatchString(doc.Lines[i]) {
				anchor = i
				break
			}
		}
	} else {
		for i := begin; i < end; i++ {
			if re.MatchString(doc.Lines[i]) {
				anchor = i
				break
			}
		}
	}
	if anchor == -1 {
		return 0, fmt.Errorf("editline: location.line_matching %q did not match any line in region", loc.LineMatching)
	}
	if loc.Before {
		return anchor, nil
	}
	return anchor + 1, nil
}

// spliceInsert inserts newLines at index i of lines, returning the new
// slice.
func spliceInsert(lines []string, i int, newLines []string) []string {
	out := make([]string, 0, len(lines)+len(newLines))
	out = append(out, lines[:i]...)
	out = append(out, newLines...)
	out = append(out, lines[i:]...)
	return out
}
