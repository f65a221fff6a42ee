package editline

// DeleteLines removes matching lines from region: a single-line
// promiser deletes every matching line; a multi-line promiser deletes
// every contiguous block of lines that matches it line-by-line via
// regex. Returns whether the document changed.
func DeleteLines(doc *Document, region Region, promiserLines []string, policy WhitespacePolicy, filters LineFilters) (bool, error) {
	if len(promiserLines) == 0 {
		return false, nil
	}
	if err := filters.Validate(); err != nil {
		return false, err
	}

	begin, end := region.Bounds(doc)

	if len(promiserLines) == 1 {
		return deleteSingleLine(doc, begin, end, promiserLines[0], policy, filters)
	}
	return deleteBlock(doc, begin, end, promiserLines, policy)
}

func deleteSingleLine(doc *Document, begin, end int, want string, policy WhitespacePolicy, filters LineFilters) (bool, error) {
	re, err := whitespacePattern(want, policy)
	if err != nil {
		return false, err
	}

	var kept []string
	kept = append(kept, doc.Lines[:begin]...)
	changed := false
	for i := begin; i < end; i++ {
		line := doc.Lines[i]
		matchesPattern := re.MatchString(line)
		passesFilters, err := filters.Match(line)
		if err != nil {
			return false, err
		}
		if matchesPattern && passesFilters {
			changed = true
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, doc.Lines[end:]...)
	if changed {
		doc.Lines = kept
	}
	return changed, nil
}

func deleteBlock(doc *Document, begin, end int, block []string, policy WhitespacePolicy) (bool, error) {
	patterns := make([]func(string) bool, len(block))
	for i, want := range block {
		re, err := whitespacePattern(want, policy)
		if err != nil {
			return false, err
		}
		patterns[i] = re.MatchString
	}

	changed := false
	out := make([]string, 0, len(doc.Lines))
	out = append(out, doc.Lines[:begin]...)

	i := begin
	for i < end {
		if i+len(block) <= end && blockMatchesAt(doc.Lines, i, patterns) {
			i += len(block)
			changed = true
			continue
		}
		out = append(out, doc.Lines[i])
		i++
	}
	out = append(out, doc.Lines[end:]...)
	if changed {
		doc.Lines = out
	}
	return changed, nil
}

func blockMatchesAt(lines []string, start int, patterns []func(string) bool) bool {
	for i, match := range patterns {
		if !match(lines[start+i]) {
			return false
		}
	}
	return true
}
