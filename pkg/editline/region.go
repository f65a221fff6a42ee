package editline

import (
	"fmt"
	"regexp"
)

// Region is a contiguous, half-open [Begin, End) range of line indices
// selected for editing. A zero-value Region with Whole set to true
// means "the whole file."
type Region struct {
	Begin int
	End   int
	Whole bool
}

// RegionSelector carries the select_start/select_end/include_start/
// include_end/select_end_match_eof attributes of one edit_defaults
// body.
type RegionSelector struct {
	SelectStart        string // regex; "" means unset
	SelectEnd          string
	IncludeStart       bool
	IncludeEnd         bool
	SelectEndMatchEOF  bool
}

// SelectRegion scans forward for the first line matching SelectStart,
// then from there scans for the first line matching SelectEnd.
func SelectRegion(doc *Document, sel RegionSelector) (Region, error) {
	if sel.SelectStart == "" && sel.SelectEnd == "" {
		return Region{Whole: true}, nil
	}

	startIdx := 0
	if sel.SelectStart != "" {
		re, err := regexp.Compile(sel.SelectStart)
		if err != nil {
			return Region{}, fmt.Errorf("editline: select_start: %w", err)
		}
		found := -1
		for i, line := range doc.Lines {
			if re.MatchString(line) {
				found = i
				break
			}
		}
		if found == -1 {
			return Region{}, fmt.Errorf("editline: select_start %q did not match any line", sel.SelectStart)
		}
		startIdx = found
		if !sel.IncludeStart {
			startIdx++
			if startIdx >= len(doc.Lines) {
				return Region{}, fmt.Errorf("editline: select_start matched the last line and include_start is false; region is empty")
			}
		}
	}

	endIdx := len(doc.Lines)
	if sel.SelectEnd != "" {
		re, err := regexp.Compile(sel.SelectEnd)
		if err != nil {
			return Region{}, fmt.Errorf("editline: select_end: %w", err)
		}
		found := -1
		for i := startIdx; i < len(doc.Lines); i++ {
			if re.MatchString(doc.Lines[i]) {
				found = i
				break
			}
		}
		if found == -1 {
			if !sel.SelectEndMatchEOF {
				return Region{}, fmt.Errorf("editline: select_end %q did not match and select_end_match_eof is false", sel.SelectEnd)
			}
			endIdx = len(doc.Lines)
		} else {
			endIdx = found
			if sel.IncludeEnd {
				endIdx++
			}
		}
	}

	if startIdx > endIdx {
		return Region{}, fmt.Errorf("editline: selected region is empty (start %d after end %d)", startIdx, endIdx)
	}
	return Region{Begin: startIdx, End: endIdx}, nil
}

// Bounds resolves r against doc, returning concrete [begin, end)
// indices; a Whole region spans the entire document.
func (r Region) Bounds(doc *Document) (int, int) {
	if r.Whole {
		return 0, len(doc.Lines)
	}
	return r.Begin, r.End
}
