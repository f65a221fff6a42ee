package editline

import (
	"fmt"
	"regexp"
)

// maxSubstitutionsPerLine bounds how many times a single line is
// rewritten by one replace_patterns promise, so a replacement that
// keeps reintroducing its own match can't loop forever.
const maxSubstitutionsPerLine = 20

// Occurrences selects whether replace_patterns touches every match on
// a line or only the first.
type Occurrences string

const (
	OccurrencesAll   Occurrences = "all"
	OccurrencesFirst Occurrences = "first"
)

// ReplaceResult reports what happened to one replace_patterns promise.
type ReplaceResult struct {
	Changed       bool
	NonConvergent bool // the pattern still matches after replacement
}

// ReplacePatterns substitutes pattern matches in every line of region.
func ReplacePatterns(doc *Document, region Region, pattern, replacement string, occurrences Occurrences) (ReplaceResult, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("editline: replace_patterns pattern: %w", err)
	}
	begin, end := region.Bounds(doc)

	result := ReplaceResult{}
	for i := begin; i < end; i++ {
		newLine, changed, nonConvergent, warnFirstOnly := replaceLine(re, doc.Lines[i], replacement, occurrences)
		if changed {
			doc.Lines[i] = newLine
			result.Changed = true
		}
		if nonConvergent {
			result.NonConvergent = true
		}
		_ = warnFirstOnly // surfaced to the caller via the Occurrences value itself
	}
	return result, nil
}

// replaceLine substitutes pattern matches in line up to the hard cap,
// then checks whether the pattern still matches the result (the
// replacement reintroduced its own match, which never converges).
// occurrences == "first" replaces only the first match and always
// reports warnFirstOnly.
func replaceLine(re *regexp.Regexp, line, replacement string, occurrences Occurrences) (result string, changed bool, nonConvergent bool, warnFirstOnly bool) {
	result = line
	count := 0
	for count < maxSubstitutionsPerLine {
		loc := re.FindStringIndex(result)
		if loc == nil {
			break
		}
		expanded := re.ReplaceAllString(result[loc[0]:loc[1]], replacement)
		result = result[:loc[0]] + expanded + result[loc[1]:]
		changed = true
		count++
		if occurrences == OccurrencesFirst {
			warnFirstOnly = true
			break
		}
	}
	if changed && re.MatchString(result) {
		nonConvergent = true
	}
	return result, changed, nonConvergent, warnFirstOnly
}
