package editline

import (
	"fmt"
	"regexp"
	"strings"
)

// WhitespacePolicy selects how strictly a candidate line must match an
// existing line for convergence purposes.
type WhitespacePolicy string

const (
	ExactMatch              WhitespacePolicy = "exact_match"
	IgnoreLeading           WhitespacePolicy = "ignore_leading"
	IgnoreTrailing          WhitespacePolicy = "ignore_trailing"
	IgnoreEmbeddedWhitespace WhitespacePolicy = "ignore_embedded_whitespace"
)

// whitespacePattern translates a single policy into a regex matching
// text that is "the same line" under that policy. Combining
// exact_match with any ignore policy is an error, checked by the
// caller before this is invoked.
func whitespacePattern(line string, policy WhitespacePolicy) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(line)
	switch policy {
	case "", ExactMatch:
		return regexp.Compile("^" + escaped + "$")
	case IgnoreLeading:
		trimmed := regexp.QuoteMeta(strings.TrimLeft(line, " \t"))
		return regexp.Compile(`^\s*` + trimmed + "$")
	case IgnoreTrailing:
		trimmed := regexp.QuoteMeta(strings.TrimRight(line, " \t"))
		return regexp.Compile("^" + trimmed + `\s*$`)
	case IgnoreEmbeddedWhitespace:
		fields := strings.Fields(line)
		escapedFields := make([]string, len(fields))
		for i, f := range fields {
			escapedFields[i] = regexp.QuoteMeta(f)
		}
		return regexp.Compile(`^\s*` + strings.Join(escapedFields, `\s+`) + `\s*$`)
	default:
		return nil, fmt.Errorf("editline: unknown whitespace policy %q", policy)
	}
}

// ValidateWhitespacePolicies enforces "error if exact_match combined
// with any ignore policy" when multiple policy tokens are supplied
// (the policy attribute is technically single-valued in the syntax
// table, but some callers compose several for multi-line blocks).
func ValidateWhitespacePolicies(policies []WhitespacePolicy) error {
	hasExact := false
	hasIgnore := false
	for _, p := range policies {
		if p == ExactMatch {
			hasExact = true
		} else if p != "" {
			hasIgnore = true
		}
	}
	if hasExact && hasIgnore {
		return fmt.Errorf("editline: exact_match cannot be combined with an ignore_* whitespace policy")
	}
	return nil
}

// LineFilters implements two mutually exclusive families of line
// selection: positive (must match) and negative (must not match).
type LineFilters struct {
	SelectLineMatching   string
	NotMatching          bool // negates SelectLineMatching
	StartWithFromList    []string
	NotStartWithFromList []string
	MatchFromList        []string
	NotMatchFromList     []string
	ContainsFromList     []string
	NotContainsFromList  []string
}

// Validate enforces "positive and negative families are mutually
// exclusive; at most one negative may be used."
func (f LineFilters) Validate() error {
	positives := 0
	if len(f.StartWithFromList) > 0 {
		positives++
	}
	if len(f.MatchFromList) > 0 {
		positives++
	}
	if len(f.ContainsFromList) > 0 {
		positives++
	}
	negatives := 0
	if len(f.NotStartWithFromList) > 0 {
		negatives++
	}
	if len(f.NotMatchFromList) > 0 {
		negatives++
	}
	if len(f.NotContainsFromList) > 0 {
		negatives++
	}
	if positives > 0 && negatives > 0 {
		return fmt.Errorf("editline: positive and negative from_list filters are mutually exclusive")
	}
	if negatives > 1 {
		return fmt.Errorf("editline: at most one negative from_list filter may be used")
	}
	return nil
}

// Match reports whether line passes every configured filter.
func (f LineFilters) Match(line string) (bool, error) {
	if f.SelectLineMatching != "" {
		re, err := regexp.Compile(f.SelectLineMatching)
		if err != nil {
			return false, fmt.Errorf("editline: select_line_matching: %w", err)
		}
		matched := re.MatchString(line)
		if f.NotMatching {
			matched = !matched
		}
		if !matched {
			return false, nil
		}
	}
	if len(f.StartWithFromList) > 0 && !anyPrefix(line, f.StartWithFromList) {
		return false, nil
	}
	if len(f.NotStartWithFromList) > 0 && anyPrefix(line, f.NotStartWithFromList) {
		return false, nil
	}
	if len(f.ContainsFromList) > 0 && !anyContains(line, f.ContainsFromList) {
		return false, nil
	}
	if len(f.NotContainsFromList) > 0 && anyContains(line, f.NotContainsFromList) {
		return false, nil
	}
	if len(f.MatchFromList) > 0 {
		ok, err := anyRegexMatch(line, f.MatchFromList)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if len(f.NotMatchFromList) > 0 {
		ok, err := anyRegexMatch(line, f.NotMatchFromList)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

func anyPrefix(line string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func anyContains(line string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func anyRegexMatch(line string, patterns []string) (bool, error) {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return false, fmt.Errorf("editline: pattern %q: %w", p, err)
		}
		if re.MatchString(line) {
			return true, nil
		}
	}
	return false, nil
}
