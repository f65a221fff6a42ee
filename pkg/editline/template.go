package editline

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// TemplateLine is one line contributed by a template file, tagged with
// the class guard active when it was read and whether it belongs to a
// [%CFEngine BEGIN %]/[%CFEngine END %] block (in which case it is
// merged with its siblings into one multi-line insertion rather than
// inserted line-by-line).
type TemplateLine struct {
	Text       string
	ClassGuard string
}

// TemplateBlock is one unit of insertion produced by expanding a
// template: either a single line (outside any BEGIN/END block) or an
// entire accumulated block (flushed at END), always inserted with
// InsertPreserveAllLines semantics.
type TemplateBlock struct {
	Lines      []string
	ClassGuard string
}

// classEvaluator is the subset of EvalContext template expansion needs;
// kept narrow so this package has no import-cycle dependency on evalctx.
type classEvaluator interface {
	IsDefinedClass(expr string) (bool, error)
}

// ExpandTemplate reads a template file and produces the ordered list of
// insertion blocks it specifies. A template line of the form
// "[%CFEngine classname::%]" switches the class guard applied to
// subsequent lines. "[%CFEngine BEGIN %]" opens a block whose lines are
// merged into a single multi-line insertion at the matching
// "[%CFEngine END %]"; nesting is rejected since there is no
// unambiguous block to attribute the inner markers to.
func ExpandTemplate(ev classEvaluator, path string) ([]TemplateBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("editline: opening template %s: %w", path, err)
	}
	defer f.Close()

	var blocks []TemplateBlock
	context := "any"
	inBlock := false
	var blockLines []string
	blockGuard := ""

	lineno := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		op, isDirective, err := parseTemplateDirective(line, lineno)
		if err != nil {
			return nil, err
		}
		if !isDirective {
			ok, err := ev.IsDefinedClass(context)
			if err != nil {
				return nil, fmt.Errorf("editline: template %s line %d: %w", path, lineno, err)
			}
			if !ok {
				continue
			}
			if inBlock {
				blockLines = append(blockLines, line)
			} else {
				blocks = append(blocks, TemplateBlock{Lines: []string{line}, ClassGuard: context})
			}
			continue
		}

		switch {
		case op == "BEGIN":
			if inBlock {
				return nil, fmt.Errorf("editline: template %s contains nested blocks, which are not allowed, near line %d", path, lineno)
			}
			inBlock = true
			blockLines = nil
			blockGuard = context
		case op == "END":
			if inBlock && len(blockLines) > 0 {
				blocks = append(blocks, TemplateBlock{Lines: blockLines, ClassGuard: blockGuard})
			}
			inBlock = false
			blockLines = nil
		case strings.HasSuffix(op, "::"):
			context = strings.TrimSuffix(op, "::")
		default:
			return nil, fmt.Errorf("editline: template %s line %d: unrecognized [%%CFEngine %s %%] directive", path, lineno, op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("editline: reading template %s: %w", path, err)
	}
	if inBlock {
		return nil, fmt.Errorf("editline: template %s ended with an unclosed [%%CFEngine BEGIN %%] block", path)
	}
	return blocks, nil
}

const templateMarkerPrefix = "[%CFEngine"

func parseTemplateDirective(line string, lineno int) (op string, isDirective bool, err error) {
	if !strings.HasPrefix(line, templateMarkerPrefix) {
		return "", false, nil
	}
	rest := strings.TrimPrefix(line, templateMarkerPrefix)
	rest = strings.TrimSpace(rest)
	if !strings.HasSuffix(rest, "%]") {
		return "", false, fmt.Errorf("editline: template syntax error, missing closing \"%%]\" at line %d", lineno)
	}
	op = strings.TrimSpace(strings.TrimSuffix(rest, "%]"))
	return op, true, nil
}
