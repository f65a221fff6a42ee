package policy

import (
	"fmt"
	"strings"
)

// ValidationErrorKind names which validation pass raised an error,
// used by callers that want to filter (e.g. the CLI's --json output).
type ValidationErrorKind string

const (
	ErrReservedBundleName  ValidationErrorKind = "reserved_bundle_name"
	ErrDuplicateBundle     ValidationErrorKind = "duplicate_bundle"
	ErrDuplicateBody       ValidationErrorKind = "duplicate_body"
	ErrUnknownAttribute    ValidationErrorKind = "unknown_attribute"
	ErrTypeMismatch        ValidationErrorKind = "type_mismatch"
	ErrUndefinedBody       ValidationErrorKind = "undefined_body"
	ErrMissingComment      ValidationErrorKind = "missing_comment"
	ErrDuplicateHandle     ValidationErrorKind = "duplicate_handle"
	ErrEmptyPromiser       ValidationErrorKind = "empty_promiser"
	ErrCustomPromiseType   ValidationErrorKind = "custom_promise_type_attribute"
)

// ValidationError is one element of the ordered error list produced by
// Validate.
type ValidationError struct {
	Kind    ValidationErrorKind
	Offset  SourceOffset
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: error: %s", e.Offset.String(), e.Message)
}

// ValidationErrors is an ordered list of ValidationError, rendered one
// per line by Error().
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// customPromiseTypeForbiddenAttrs are rejected on promises whose
// section's promise-type is one the policy declares custom: their job
// is superseded by "if".
var customPromiseTypeForbiddenAttrs = map[string]bool{
	"ifvarclass": true, "action_policy": true, "expireafter": true, "meta": true,
}

// Validate runs every semantic validation pass against p and
// returns the ordered list of errors found. An empty, non-nil slice
// means the policy is valid. Validate is pure and deterministic: it
// never mutates p.
func Validate(p *Policy) ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, validateReservedNames(p)...)
	errs = append(errs, validateDuplicateBundles(p)...)
	errs = append(errs, validateDuplicateBodies(p)...)
	errs = append(errs, validateConstraints(p)...)
	errs = append(errs, validateUndefinedBodies(p)...)
	errs = append(errs, validateRequiredComments(p)...)
	errs = append(errs, validateDuplicateHandles(p)...)
	errs = append(errs, validateEmptyPromisers(p)...)
	errs = append(errs, validateCustomPromiseTypeAttrs(p)...)
	return errs
}

func validateReservedNames(p *Policy) ValidationErrors {
	var errs ValidationErrors
	for _, b := range p.Bundles {
		if reservedBundleNames[b.Name] {
			errs = append(errs, ValidationError{
				Kind: ErrReservedBundleName, Offset: b.Offset,
				Message: fmt.Sprintf("bundle name %q is reserved", b.Name),
			})
		}
	}
	return errs
}

func validateDuplicateBundles(p *Policy) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[BundleKey]*Bundle)
	for _, b := range p.Bundles {
		key := b.Key()
		if prior, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Kind: ErrDuplicateBundle, Offset: b.Offset,
				Message: fmt.Sprintf("bundle %s:%s %s duplicates definition at %s", key.Namespace, key.Type, key.Name, prior.Offset),
			})
			continue
		}
		seen[key] = b
	}
	return errs
}

func validateDuplicateBodies(p *Policy) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[BundleKey]*Body)
	for _, b := range p.Bodies {
		if b.Type == "file" {
			// Bodies of type "file" are textual includes; multiple
			// definitions are permitted.
			continue
		}
		key := b.Key()
		if prior, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Kind: ErrDuplicateBody, Offset: b.Offset,
				Message: fmt.Sprintf("body %s:%s %s duplicates definition at %s", key.Namespace, key.Type, key.Name, prior.Offset),
			})
			continue
		}
		seen[key] = b
	}
	return errs
}

// isCustomPromiseType reports whether promiseType was declared custom
// somewhere in the policy.
func isCustomPromiseType(p *Policy, promiseType string) bool {
	for _, t := range p.CustomPromiseTypes {
		if t.Name == promiseType {
			return true
		}
	}
	return false
}

func validateConstraints(p *Policy) ValidationErrors {
	var errs ValidationErrors
	for _, b := range p.Bundles {
		for _, section := range b.Sections {
			custom := isCustomPromiseType(p, section.PromiseType)
			for _, promise := range section.Promises {
				for _, c := range promise.Constraints {
					attr, known := LookupAttribute(b.Type, section.PromiseType, c.LVal)
					if !known && !custom {
						errs = append(errs, ValidationError{
							Kind: ErrUnknownAttribute, Offset: c.Offset,
							Message: fmt.Sprintf("%q is not a known attribute of %s promises in bundle type %q", c.LVal, section.PromiseType, b.Type),
						})
						continue
					}
					if !known {
						continue
					}
					if msg := typeMismatch(attr, c.RVal); msg != "" {
						errs = append(errs, ValidationError{Kind: ErrTypeMismatch, Offset: c.Offset, Message: msg})
					}
				}
			}
		}
	}
	return errs
}

// typeMismatch checks the right-value kind against the declared data
// type. Scalar-valued entries accept function calls here unconditionally;
// those get validated later, after expansion, by the promise expander's
// pre-eval recheck.
func typeMismatch(attr AttributeSyntax, rval RightValue) string {
	if rval.Kind == RightValueFunctionCall {
		return ""
	}
	switch attr.Type {
	case DataTypeBodyRef:
		if rval.Kind != RightValueSymbol {
			return fmt.Sprintf("attribute %q expects a reference to a %q body, got %s", attr.LVal, attr.BodyType, rval.Kind)
		}
	case DataTypeStringList, DataTypeContainer:
		if rval.Kind != RightValueList && rval.Kind != RightValueContainer {
			return fmt.Sprintf("attribute %q expects a list, got %s", attr.LVal, rval.Kind)
		}
	case DataTypeOption:
		if rval.Kind != RightValueString {
			return fmt.Sprintf("attribute %q expects one of %v, got %s", attr.LVal, attr.Options, rval.Kind)
		}
		for _, opt := range attr.Options {
			if opt == rval.String {
				return ""
			}
		}
		return fmt.Sprintf("attribute %q value %q is not one of %v", attr.LVal, rval.String, attr.Options)
	case DataTypeString, DataTypeInt, DataTypeReal, DataTypeBool:
		if rval.Kind != RightValueString {
			return fmt.Sprintf("attribute %q expects a scalar, got %s", attr.LVal, rval.Kind)
		}
	}
	return ""
}

func validateUndefinedBodies(p *Policy) ValidationErrors {
	var errs ValidationErrors
	check := func(c *Constraint, bundleType, promiseType string) {
		if !c.ReferencesBody {
			return
		}
		attr, known := LookupAttribute(bundleType, promiseType, c.LVal)
		if !known || attr.Type != DataTypeBodyRef {
			return
		}
		if p.LookupBody("default", attr.BodyType, c.RVal.String) == nil {
			errs = append(errs, ValidationError{
				Kind: ErrUndefinedBody, Offset: c.Offset,
				Message: fmt.Sprintf("attribute %q references undefined %s body %q", c.LVal, attr.BodyType, c.RVal.String),
			})
		}
	}
	for _, b := range p.Bundles {
		for _, section := range b.Sections {
			for _, promise := range section.Promises {
				for _, c := range promise.Constraints {
					check(c, b.Type, section.PromiseType)
				}
			}
		}
	}
	return errs
}

func requireComments(p *Policy) bool {
	control := p.LookupBody("default", "common", "control")
	if control == nil {
		return false
	}
	for _, c := range control.Constraints {
		if c.LVal == "require_comments" {
			return c.RVal.Kind == RightValueString && c.RVal.String == "true"
		}
	}
	return false
}

func validateRequiredComments(p *Policy) ValidationErrors {
	if !requireComments(p) {
		return nil
	}
	var errs ValidationErrors
	for _, b := range p.Bundles {
		for _, section := range b.Sections {
			for _, promise := range section.Promises {
				if promise.Constraint("comment") == nil {
					errs = append(errs, ValidationError{
						Kind: ErrMissingComment, Offset: promise.Offset,
						Message: fmt.Sprintf("promise %q requires a comment (common control.require_comments is true)", promise.Promiser),
					})
				}
			}
		}
	}
	return errs
}

// containsUnexpandedVariable reports whether s contains an
// unresolved $(...) or ${...} reference; such handles are excluded
// from the duplicate-handle check.
func containsUnexpandedVariable(s string) bool {
	return strings.Contains(s, "$(") || strings.Contains(s, "${")
}

func validateDuplicateHandles(p *Policy) ValidationErrors {
	var errs ValidationErrors
	type key struct{ handle, guard string }
	seen := make(map[key]*Promise)
	for _, b := range p.Bundles {
		for _, section := range b.Sections {
			for _, promise := range section.Promises {
				if promise.Handle == "" || containsUnexpandedVariable(promise.Handle) {
					continue
				}
				k := key{handle: promise.Handle, guard: promise.ClassGuard}
				if prior, ok := seen[k]; ok {
					errs = append(errs, ValidationError{
						Kind: ErrDuplicateHandle, Offset: promise.Offset,
						Message: fmt.Sprintf("handle %q (class guard %q) duplicates the handle on the promise at %s", promise.Handle, promise.ClassGuard, prior.Offset),
					})
					continue
				}
				seen[k] = promise
			}
		}
	}
	return errs
}

func validateEmptyPromisers(p *Policy) ValidationErrors {
	var errs ValidationErrors
	for _, b := range p.Bundles {
		for _, section := range b.Sections {
			for _, promise := range section.Promises {
				if promise.IsEmptyPromiser() {
					errs = append(errs, ValidationError{
						Kind: ErrEmptyPromiser, Offset: promise.Offset,
						Message: "promiser must not be empty or an empty variable reference",
					})
				}
			}
		}
	}
	return errs
}

func validateCustomPromiseTypeAttrs(p *Policy) ValidationErrors {
	if len(p.CustomPromiseTypes) == 0 {
		return nil
	}
	var errs ValidationErrors
	for _, b := range p.Bundles {
		for _, section := range b.Sections {
			if !isCustomPromiseType(p, section.PromiseType) {
				continue
			}
			for _, promise := range section.Promises {
				for _, c := range promise.Constraints {
					if customPromiseTypeForbiddenAttrs[c.LVal] {
						errs = append(errs, ValidationError{
							Kind: ErrCustomPromiseType, Offset: c.Offset,
							Message: fmt.Sprintf("attribute %q is not permitted on custom promise type %q promises; use \"if\" instead", c.LVal, section.PromiseType),
						})
					}
				}
			}
		}
	}
	return errs
}
