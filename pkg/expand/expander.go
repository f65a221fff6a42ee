// Package expand implements the Promise Expander (C5): variable and
// function expansion, Cartesian-product iteration over list-valued
// constraints, and the pre-eval recheck that re-validates a promise
// after its variables have resolved.
package expand

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/policy"
)

// Resolver expands a right-value against the current evaluation
// context: scalar substitution of $(var)/${var} references, and
// (for function calls) either a scalar or a container result. A
// concrete implementation lives in pkg/config/functions, layering the
// Starlark function evaluator over $(...) variable interpolation;
// tests in this package use a map-backed fake.
type Resolver interface {
	// ResolveScalar expands variable references and function calls in
	// s, returning the fully substituted string.
	ResolveScalar(ctx *evalctx.EvalContext, s string) (string, error)

	// ResolveList expands rv to a concrete list of scalars if rv is,
	// or evaluates to, a list; ok is false if rv is not iterable.
	ResolveList(ctx *evalctx.EvalContext, rv policy.RightValue) ([]string, bool, error)
}

// iterable names one constraint (by left-value) whose right-value
// will be iterated, plus the concrete values to iterate over.
type iterable struct {
	lval      string
	isPromiser bool
	values    []string
}

// Iterator lazily produces concrete promises for one abstract promise,
// per the "iterator returning concrete promises lazily" design note:
// memory cost is proportional to the number of iterable constraints,
// not to the full Cartesian product.
type Iterator struct {
	ctx      *evalctx.EvalContext
	resolver Resolver
	promise  *policy.Promise
	iters    []iterable
	odometer []int
	done     bool
	emitted  int
}

// NewIterator identifies the iterable constraints on promise and
// prepares to walk their Cartesian product.
func NewIterator(ctx *evalctx.EvalContext, promise *policy.Promise, resolver Resolver) (*Iterator, error) {
	it := &Iterator{ctx: ctx, resolver: resolver, promise: promise}

	if values, ok, err := resolver.ResolveList(ctx, policy.Scalar(promise.Promiser)); err != nil {
		return nil, err
	} else if ok {
		it.iters = append(it.iters, iterable{lval: "$promiser", isPromiser: true, values: values})
	}

	for _, c := range promise.Constraints {
		values, ok, err := resolver.ResolveList(ctx, c.RVal)
		if err != nil {
			return nil, fmt.Errorf("expand: resolving %q: %w", c.LVal, err)
		}
		if !ok {
			continue
		}
		it.iters = append(it.iters, iterable{lval: c.LVal, values: values})
	}

	it.odometer = make([]int, len(it.iters))
	for _, iter := range it.iters {
		if len(iter.values) == 0 {
			it.done = true
			break
		}
	}
	return it, nil
}

// Next produces the next concrete promise, or ok=false once the
// Cartesian product is exhausted. A promise with no iterable
// constraints yields exactly one concrete promise equal to a scalar
// expansion of the original.
func (it *Iterator) Next() (*policy.Promise, bool, error) {
	if it.done && it.emitted > 0 {
		return nil, false, nil
	}

	bindings := make(map[string]string, len(it.iters))
	promiser := it.promise.Promiser
	for i, iter := range it.iters {
		val := iter.values[it.odometer[i]]
		if iter.isPromiser {
			promiser = val
		} else {
			bindings[iter.lval] = val
		}
	}

	concrete, err := it.materialize(promiser, bindings)
	if err != nil {
		return nil, false, err
	}

	it.emitted++
	it.advanceOdometer()
	return concrete, true, nil
}

func (it *Iterator) advanceOdometer() {
	for i := len(it.iters) - 1; i >= 0; i-- {
		it.odometer[i]++
		if it.odometer[i] < len(it.iters[i].values) {
			return
		}
		it.odometer[i] = 0
	}
	it.done = true
}

// materialize expands the promiser, promisee, and every constraint
// right-value, substituting any binding produced by the current
// odometer position, and returns the resulting concrete promise.
func (it *Iterator) materialize(promiser string, bindings map[string]string) (*policy.Promise, error) {
	expandedPromiser, err := it.resolver.ResolveScalar(it.ctx, promiser)
	if err != nil {
		return nil, fmt.Errorf("expand: promiser: %w", err)
	}

	concrete := &policy.Promise{
		Promiser:   expandedPromiser,
		ClassGuard: it.promise.ClassGuard,
		Comment:    it.promise.Comment,
		Handle:     it.promise.Handle,
		Offset:     it.promise.Offset,
		Section:    it.promise.Section,
		Original:   it.promise,
	}

	if it.promise.Promisee != nil {
		v, err := it.expandRightValue(*it.promise.Promisee, bindings)
		if err != nil {
			return nil, err
		}
		concrete.Promisee = &v
	}

	for _, c := range it.promise.Constraints {
		rval := c.RVal
		if bound, ok := bindings[c.LVal]; ok {
			rval = policy.Scalar(bound)
		} else {
			var err error
			rval, err = it.expandRightValue(rval, bindings)
			if err != nil {
				return nil, fmt.Errorf("expand: constraint %q: %w", c.LVal, err)
			}
		}
		concrete.AppendConstraint(c.LVal, rval, c.Offset)
	}

	return concrete, nil
}

func (it *Iterator) expandRightValue(rval policy.RightValue, bindings map[string]string) (policy.RightValue, error) {
	switch rval.Kind {
	case policy.RightValueString:
		expanded, err := it.resolver.ResolveScalar(it.ctx, rval.String)
		if err != nil {
			return policy.RightValue{}, err
		}
		return policy.Scalar(expanded), nil
	case policy.RightValueList:
		items := make([]policy.RightValue, len(rval.List))
		for i, item := range rval.List {
			expanded, err := it.expandRightValue(item, bindings)
			if err != nil {
				return policy.RightValue{}, err
			}
			items[i] = expanded
		}
		return policy.ListOf(items...), nil
	default:
		return rval, nil
	}
}

// PreEvalRecheck re-runs constraint type checking on a concrete
// promise after its right values have been fully expanded, since
// expansion can turn a well-typed list constraint into a scalar that
// no longer matches its declared type. bundleType and promiseType
// identify the syntax table entry to check against.
func PreEvalRecheck(bundleType, promiseType string, concrete *policy.Promise) policy.ValidationErrors {
	var errs policy.ValidationErrors
	for _, c := range concrete.Constraints {
		attr, known := policy.LookupAttribute(bundleType, promiseType, c.LVal)
		if !known {
			continue
		}
		if msg := checkExpandedType(attr, c.RVal); msg != "" {
			errs = append(errs, policy.ValidationError{
				Kind: policy.ErrTypeMismatch, Offset: c.Offset, Message: msg,
			})
		}
	}
	return errs
}

func checkExpandedType(attr policy.AttributeSyntax, rval policy.RightValue) string {
	if attr.Type == policy.DataTypeInt {
		if rval.Kind == policy.RightValueString && !isInteger(rval.String) {
			return fmt.Sprintf("attribute %q expanded to non-integer value %q", attr.LVal, rval.String)
		}
	}
	if attr.Type == policy.DataTypeBool {
		if rval.Kind == policy.RightValueString && rval.String != "true" && rval.String != "false" {
			return fmt.Sprintf("attribute %q expanded to non-boolean value %q", attr.LVal, rval.String)
		}
	}
	return ""
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// anchorUsageTracker warns when an insert_lines promise's
// select_line_matching anchor has already been used by another
// promise in the same bundle, since the second promise's placement
// then depends on the first having already run.
type anchorUsageTracker struct {
	seen map[string]string // anchor pattern -> handle/promiser that first used it
}

func newAnchorUsageTracker() *anchorUsageTracker {
	return &anchorUsageTracker{seen: make(map[string]string)}
}

// CheckInsertLinesAnchors scans a bundle's insert_lines section and
// returns a warning (as an agentlib.Error of class ClassPermanent,
// non-fatal — callers log it as a WARN outcome, not a validation
// failure) for every select_line_matching anchor reused across
// promises.
func CheckInsertLinesAnchors(section *policy.BundleSection) []*agentlib.Error {
	if section.PromiseType != "insert_lines" {
		return nil
	}
	tracker := newAnchorUsageTracker()
	var warnings []*agentlib.Error
	for _, promise := range section.Promises {
		c := promise.Constraint("select_line_matching")
		if c == nil || c.RVal.Kind != policy.RightValueString {
			continue
		}
		anchor := c.RVal.String
		if first, ok := tracker.seen[anchor]; ok {
			warnings = append(warnings, agentlib.NewPermanentError(
				"select_line_matching anchor %q is also used by promise %q; the two promises may contradict one another",
				anchor, first,
			).WithPromise(promise.Promiser).WithCode(agentlib.CodeValidation))
			continue
		}
		tracker.seen[anchor] = promise.Promiser
	}
	return warnings
}

// variableRefPattern matches $(name) or ${name} variable references.
var variableRefPattern = regexp.MustCompile(`\$[({]([^)}]*)[)}]`)

// HasUnresolvedReferences reports whether s still contains a
// $(...) /${...} reference after resolution was attempted — used by
// actuators to detect a reference to an undefined variable rather than
// silently actuating on the literal text "$(undefined)".
func HasUnresolvedReferences(s string) bool {
	return variableRefPattern.MatchString(s)
}

// SplitListLiteral splits a comma-separated literal into trimmed
// elements, the fallback ResolveList path for constraints authored as
// a bare string instead of a policy.RightValueList (some promise
// types, e.g. depends_on, accept either shape from the parser).
func SplitListLiteral(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
