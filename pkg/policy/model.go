// Package policy holds the typed policy model (C1), the static syntax
// tables describing known promise types (C2), the semantic validator
// (C4), and the JSON bridge (C10).
//
// The model mirrors the shape handed to the engine by the (out of
// scope) policy parser: bundles and bodies owned by a Policy, sections
// owned by bundles, promises owned by sections, constraints owned by
// either a promise or a body. Back-references are expressed as plain
// pointers into the owning Policy's slices rather than as a separate
// arena, since a Policy is never mutated concurrently (see pkg/runner
// for the single-threaded control loop that owns one).
package policy

import "fmt"

// SourceOffset locates a policy element in its originating source file.
type SourceOffset struct {
	Path   string
	Line   int
	Column int
}

func (o SourceOffset) String() string {
	if o.Path == "" {
		return "<generated>"
	}
	return fmt.Sprintf("%s:%d:%d", o.Path, o.Line, o.Column)
}

// RightValueKind enumerates the shapes a constraint's or promisee's
// right-hand value may take.
type RightValueKind string

const (
	RightValueString      RightValueKind = "string"
	RightValueSymbol      RightValueKind = "symbol"
	RightValueList        RightValueKind = "list"
	RightValueFunctionCall RightValueKind = "functionCall"
	RightValueContainer   RightValueKind = "container"
)

// RightValue is the tagged union used for promisee values and
// constraint right-values.
type RightValue struct {
	Kind RightValueKind

	// String holds the scalar text for Kind == RightValueString, or
	// the referenced body's name for Kind == RightValueSymbol.
	String string

	// List holds child values for Kind == RightValueList.
	List []RightValue

	// Call holds the function name and arguments for Kind ==
	// RightValueFunctionCall.
	Call *FunctionCall

	// Container holds an arbitrary JSON document for Kind ==
	// RightValueContainer.
	Container any
}

// Scalar builds a string right-value.
func Scalar(s string) RightValue { return RightValue{Kind: RightValueString, String: s} }

// SymbolRef builds a body-reference right-value.
func SymbolRef(bodyName string) RightValue { return RightValue{Kind: RightValueSymbol, String: bodyName} }

// ListOf builds a list right-value.
func ListOf(items ...RightValue) RightValue { return RightValue{Kind: RightValueList, List: items} }

// CallOf builds a function-call right-value.
func CallOf(name string, args ...RightValue) RightValue {
	return RightValue{Kind: RightValueFunctionCall, Call: &FunctionCall{Name: name, Args: args}}
}

// IsEmptyVariableReference reports whether the scalar is a bare,
// unresolved variable reference with no name, e.g. "$()" or "${}" —
// promisers in this shape are rejected by the validator.
func (r RightValue) IsEmptyVariableReference() bool {
	if r.Kind != RightValueString {
		return false
	}
	s := r.String
	return s == "$()" || s == "${}"
}

// FunctionCall is a name plus an ordered argument list.
type FunctionCall struct {
	Name string
	Args []RightValue
}

// ParentKind tags which of a Constraint's two possible owners is set.
type ParentKind int

const (
	ParentNone ParentKind = iota
	ParentPromise
	ParentBody
)

// ConstraintParent is a two-variant sum type: a constraint belongs to
// either a Promise or a Body, never both.
type ConstraintParent struct {
	Kind    ParentKind
	Promise *Promise
	Body    *Body
}

// Constraint is a single lval => rval attribute, optionally guarded by
// its own class expression (body constraints may carry per-constraint
// guards independent of the owning promise's guard).
type Constraint struct {
	LVal           string
	RVal           RightValue
	ClassGuard     string
	ReferencesBody bool
	Offset         SourceOffset
	Parent         ConstraintParent
}

// Promise is a convergent declaration that some promiser shall be in
// a described state.
type Promise struct {
	Promiser   string
	Promisee   *RightValue
	ClassGuard string
	Comment    string
	Handle     string
	Offset     SourceOffset
	Constraints []*Constraint
	Section    *BundleSection

	// Original points at the pre-expansion promise this one was
	// derived from by the expander (C5). Nil for promises as parsed.
	Original *Promise
}

func newPromise(promiser string, section *BundleSection, offset SourceOffset) *Promise {
	guard := "any"
	return &Promise{Promiser: promiser, ClassGuard: guard, Offset: offset, Section: section}
}

// Constraint returns the promise's constraint with the given
// left-value, or nil.
func (p *Promise) Constraint(lval string) *Constraint {
	for _, c := range p.Constraints {
		if c.LVal == lval {
			return c
		}
	}
	return nil
}

// BundleSection holds all promises of one promise-type within a
// bundle.
type BundleSection struct {
	PromiseType string
	Offset      SourceOffset
	Promises    []*Promise
	Bundle      *Bundle
}

// AppendPromise creates, attaches, and returns a new promise with the
// given promiser.
func (s *BundleSection) AppendPromise(promiser string, offset SourceOffset) (*Promise, error) {
	if promiser == "" {
		return nil, fmt.Errorf("policy: promiser must not be empty")
	}
	p := newPromise(promiser, s, offset)
	if p.IsEmptyPromiser() {
		return nil, fmt.Errorf("policy: promiser %q is an empty variable reference", promiser)
	}
	s.Promises = append(s.Promises, p)
	return p, nil
}

// IsEmptyPromiser reports whether the promiser is empty or an empty
// variable reference such as "$()" or "${}".
func (p *Promise) IsEmptyPromiser() bool {
	return p.Promiser == "" || p.Promiser == "$()" || p.Promiser == "${}"
}

// reservedBundleNames mirrors the legacy parser's reserved scope
// names; the validator rejects bundles declared with these names.
var reservedBundleNames = map[string]bool{
	"sys": true, "const": true, "mon": true, "edit": true, "match": true, "this": true,
}

// Bundle is a named, typed, scoped unit of policy.
type Bundle struct {
	Namespace      string
	Type           string
	Name           string
	Args           []string
	SourcePath     string
	Offset         SourceOffset
	Sections       []*BundleSection // built-in promise types
	CustomSections []*BundleSection // custom promise-type sections
	Policy         *Policy
}

// Key returns the (namespace, type, name) identity triple used for
// uniqueness checks among built-in bundle types.
func (b *Bundle) Key() BundleKey {
	ns := b.Namespace
	if ns == "" {
		ns = "default"
	}
	return BundleKey{Namespace: ns, Type: b.Type, Name: b.Name}
}

// BundleKey is the (namespace, type, name) identity of a bundle.
type BundleKey struct {
	Namespace string
	Type      string
	Name      string
}

// AppendSection returns the existing section for promiseType if one
// exists (at most one section per promise-type per bundle), otherwise
// creates, attaches, and returns a new one.
func (b *Bundle) AppendSection(promiseType string, offset SourceOffset) *BundleSection {
	for _, s := range b.Sections {
		if s.PromiseType == promiseType {
			return s
		}
	}
	s := &BundleSection{PromiseType: promiseType, Offset: offset, Bundle: b}
	b.Sections = append(b.Sections, s)
	return s
}

// Section returns the bundle's section for promiseType, or nil.
func (b *Bundle) Section(promiseType string) *BundleSection {
	for _, s := range b.Sections {
		if s.PromiseType == promiseType {
			return s
		}
	}
	return nil
}

// Body is a named, reusable attribute bundle referenced by name from
// a promise constraint.
type Body struct {
	Namespace   string
	Type        string
	Name        string
	Args        []string
	Constraints []*Constraint
	SourcePath  string
	Offset      SourceOffset
	Custom      bool
}

// Key returns the (namespace, type, name) identity triple.
func (b *Body) Key() BundleKey {
	ns := b.Namespace
	if ns == "" {
		ns = "default"
	}
	return BundleKey{Namespace: ns, Type: b.Type, Name: b.Name}
}

// leftValuesMergedAsAnd are the left-values for which a repeated
// AppendConstraint call combines right-values with logical AND
// instead of replacing in place.
var leftValuesMergedAsAnd = map[string]bool{
	"if": true, "ifvarclass": true,
}

// AppendConstraint implements the merge semantics for repeated
// constraints: appending a constraint whose left-value is already
// present merges (for
// if/ifvarclass) or replaces in place; the class guard must also match
// for a Body-owned constraint to be treated as the same slot.
func (b *Body) AppendConstraint(lval string, rval RightValue, classGuard string, offset SourceOffset) *Constraint {
	for _, existing := range b.Constraints {
		if existing.LVal != lval || existing.ClassGuard != classGuard {
			continue
		}
		if leftValuesMergedAsAnd[lval] {
			mergeAnd(existing, rval)
		} else {
			existing.RVal = rval
			existing.Offset = offset
		}
		return existing
	}
	c := &Constraint{
		LVal: lval, RVal: rval, ClassGuard: classGuard, Offset: offset,
		ReferencesBody: rval.Kind == RightValueSymbol,
		Parent:         ConstraintParent{Kind: ParentBody, Body: b},
	}
	b.Constraints = append(b.Constraints, c)
	return c
}

// AppendConstraint implements the same merge semantics as
// Body.AppendConstraint, but keyed on left-value alone (promise
// constraints do not carry a separate per-constraint class guard; the
// guard lives on the promise).
func (p *Promise) AppendConstraint(lval string, rval RightValue, offset SourceOffset) *Constraint {
	if existing := p.Constraint(lval); existing != nil {
		if leftValuesMergedAsAnd[lval] {
			mergeAnd(existing, rval)
		} else {
			existing.RVal = rval
			existing.Offset = offset
		}
		return existing
	}
	c := &Constraint{
		LVal: lval, RVal: rval, Offset: offset,
		ReferencesBody: rval.Kind == RightValueSymbol,
		Parent:         ConstraintParent{Kind: ParentPromise, Promise: p},
	}
	p.Constraints = append(p.Constraints, c)
	return c
}

// mergeAnd combines an existing if/ifvarclass right-value with a newly
// appended one: scalar-scalar joins via "()&()" syntax; a function
// call on either side is promoted to and(existing, new).
func mergeAnd(existing *Constraint, next RightValue) {
	if existing.RVal.Kind == RightValueString && next.Kind == RightValueString {
		existing.RVal = Scalar(fmt.Sprintf("(%s)&(%s)", existing.RVal.String, next.String))
		return
	}
	existing.RVal = CallOf("and", existing.RVal, next)
}

// CustomPromiseTypeTemplate describes a policy-declared custom promise
// type, used by the validator's custom-promise-type pass and by
// pkg/modules to dispatch actuation to an out-of-process module.
type CustomPromiseTypeTemplate struct {
	Name       string
	Interface  string // module path or identifier for the out-of-process handler
	Offset     SourceOffset
	Promiser   string // formal name bound to the promiser in the template body
	Constraints []*Constraint
}

// Policy is the top-level container: an ordered set of bundles, an
// ordered set of bodies, custom-promise-type templates, and the
// per-source-file content hashes used for change detection on reload.
type Policy struct {
	Bundles            []*Bundle
	Bodies             []*Body
	CustomPromiseTypes []*CustomPromiseTypeTemplate
	SourceHashes       map[string]string
	ReleaseID          string
}

// New returns an empty Policy ready for builder calls.
func New() *Policy {
	return &Policy{SourceHashes: make(map[string]string)}
}

// AppendBundle creates, attaches, and returns a new bundle. It does
// not itself enforce uniqueness; the validator's duplicate-bundle pass
// does, since a parser is free to build policies incrementally and
// only the validator decides when they are final.
func (p *Policy) AppendBundle(namespace, typ, name string, args []string, sourcePath string, offset SourceOffset) *Bundle {
	if namespace == "" {
		namespace = "default"
	}
	b := &Bundle{Namespace: namespace, Type: typ, Name: name, Args: args, SourcePath: sourcePath, Offset: offset, Policy: p}
	p.Bundles = append(p.Bundles, b)
	return b
}

// AppendBody creates, attaches, and returns a new body.
func (p *Policy) AppendBody(namespace, typ, name string, args []string, sourcePath string, offset SourceOffset) *Body {
	if namespace == "" {
		namespace = "default"
	}
	b := &Body{Namespace: namespace, Type: typ, Name: name, Args: args, SourcePath: sourcePath, Offset: offset}
	p.Bodies = append(p.Bodies, b)
	return b
}

// LookupBundle finds a bundle by its identity triple.
func (p *Policy) LookupBundle(namespace, typ, name string) *Bundle {
	if namespace == "" {
		namespace = "default"
	}
	for _, b := range p.Bundles {
		if b.Namespace == namespace && b.Type == typ && b.Name == name {
			return b
		}
	}
	return nil
}

// LookupBody finds a body by its identity triple.
func (p *Policy) LookupBody(namespace, typ, name string) *Body {
	if namespace == "" {
		namespace = "default"
	}
	for _, b := range p.Bodies {
		if b.Namespace == namespace && b.Type == typ && b.Name == name {
			return b
		}
	}
	return nil
}

// IsRunnable tests whether the policy has a "common control" body,
// the condition under which `promised run` will accept it as a top
// level policy rather than a library of bundles included by one.
func (p *Policy) IsRunnable() bool {
	return p.LookupBody("default", "common", "control") != nil
}

// Merge appends b's bundles, bodies, and custom promise types onto p.
// Ownership of b's elements transfers to p; b must not be reused.
// Merging itself performs no validation — callers run the validator
// afterward.
func (p *Policy) Merge(b *Policy) {
	for _, bundle := range b.Bundles {
		bundle.Policy = p
		p.Bundles = append(p.Bundles, bundle)
	}
	p.Bodies = append(p.Bodies, b.Bodies...)
	p.CustomPromiseTypes = append(p.CustomPromiseTypes, b.CustomPromiseTypes...)
	for path, hash := range b.SourceHashes {
		p.SourceHashes[path] = hash
	}
}
