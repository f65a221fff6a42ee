package editline

import (
	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/expand"
	"github.com/promised/agent/pkg/policy"
)

// maxEditLinePasses bounds how many times the fixed section order is
// repeated looking for a fixed point before giving up and returning
// whatever outcome the last pass produced.
const maxEditLinePasses = 10

// SectionActuator actuates one concrete promise from an edit_line
// bundle section against doc, returning the outcome and whether the
// document changed. Each promise type's attributes (region, filters,
// whitespace policy, and so on) are parsed from the concrete promise's
// constraints by the implementation; this package owns line
// arithmetic and pass ordering, not attribute parsing.
type SectionActuator interface {
	Actuate(doc *Document, ctx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, bool, error)
}

// Run evaluates bundle's sections in the fixed edit-line pass order
// (vars, classes, delete_lines, field_edits, insert_lines,
// replace_patterns, reports), repeating the full pass up to
// maxEditLinePasses times until one pass makes no change to doc, and
// returns the worst outcome observed across every promise actuated.
func Run(doc *Document, ctx *evalctx.EvalContext, bundle *policy.Bundle, resolver expand.Resolver, actuator SectionActuator) (agentlib.Outcome, error) {
	order := policy.EditLineSectionOrder()
	overall := agentlib.NOOP

	for pass := 0; pass < maxEditLinePasses; pass++ {
		passChanged := false

		for _, promiseType := range order {
			section := bundle.Section(promiseType)
			if section == nil {
				continue
			}

			changed, outcome, err := runSection(doc, ctx, section, promiseType, resolver, actuator)
			if err != nil {
				return overall, err
			}
			overall = agentlib.Worst(overall, outcome)
			if changed {
				passChanged = true
			}
		}

		if !passChanged {
			break
		}
	}
	return overall, nil
}

func runSection(doc *Document, ctx *evalctx.EvalContext, section *policy.BundleSection, promiseType string, resolver expand.Resolver, actuator SectionActuator) (bool, agentlib.Outcome, error) {
	sectionChanged := false
	outcome := agentlib.NOOP

	for _, promise := range section.Promises {
		defined, err := ctx.IsDefinedClass(promise.ClassGuard)
		if err != nil {
			return sectionChanged, outcome, err
		}
		if !defined {
			continue
		}

		it, err := expand.NewIterator(ctx, promise, resolver)
		if err != nil {
			return sectionChanged, outcome, err
		}

		for {
			concrete, ok, err := it.Next()
			if err != nil {
				return sectionChanged, outcome, err
			}
			if !ok {
				break
			}

			promiseOutcome, changed, err := actuator.Actuate(doc, ctx, promiseType, concrete)
			if err != nil {
				return sectionChanged, outcome, err
			}
			outcome = agentlib.Worst(outcome, promiseOutcome)
			if changed {
				sectionChanged = true
			}
		}
	}
	return sectionChanged, outcome, nil
}
