// Package functions implements the expand.Resolver pkg/config promises:
// $(var)/${var} interpolation against the evaluation context's variable
// table, layered under Starlark evaluation of function-call right-values
// (policy.RightValueFunctionCall), so a promise attribute authored as
// render_template(name) in CUE resolves the same way $(name) does.
package functions

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/promised/agent/pkg/config"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/policy"
)

// Resolver is the Starlark-backed expand.Resolver implementation. It
// wraps a config.StarlarkEvaluator and a table of named functions
// (typically pkg/config.ParsedConfig.Functions, the scripts authored
// under a bundle's "functions" block) invoked by name on a function-call
// right-value.
type Resolver struct {
	evaluator *config.StarlarkEvaluator
	scripts   map[string]string
}

// New builds a Resolver. scripts maps a function name to the Starlark
// source that implements it; a nil or empty table is valid and simply
// means no function-call right-value will resolve.
func New(scripts map[string]string) *Resolver {
	return &Resolver{
		evaluator: config.NewStarlarkEvaluator(0),
		scripts:   scripts,
	}
}

// variableRefPattern matches $(name) or ${name}.
var variableRefPattern = regexp.MustCompile(`\$[({]([^)}]*)[)}]`)

// exactVariableRefPattern matches a string that is nothing but a single
// variable reference, the shape that can expand to a list rather than a
// scalar.
var exactVariableRefPattern = regexp.MustCompile(`^\$[({]([^)}]*)[)}]$`)

// ResolveScalar substitutes every $(var)/${var} reference in s with the
// named variable's string value. A slist-valued variable referenced in
// scalar position joins on ",", matching how list-typed constraints
// serialize when flattened into another scalar attribute.
func (r *Resolver) ResolveScalar(ctx *evalctx.EvalContext, s string) (string, error) {
	result := variableRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := variableRefPattern.FindStringSubmatch(ref)[1]
		val, ok := ctx.LookupVariable(name)
		if !ok {
			return ref
		}
		switch val.Kind {
		case evalctx.ValueSlist:
			return strings.Join(val.Slist, ",")
		case evalctx.ValueData:
			return fmt.Sprintf("%v", val.Data)
		default:
			return val.Str
		}
	})
	return result, nil
}

// ResolveList expands rv to a concrete list of scalars when rv is, or
// evaluates to, a list. A RightValueList resolves each element as a
// scalar. A RightValueFunctionCall is evaluated via Starlark; a list
// result expands, anything else does not. A RightValueString expands
// only if it is exactly one variable reference to an slist variable.
func (r *Resolver) ResolveList(ctx *evalctx.EvalContext, rv policy.RightValue) ([]string, bool, error) {
	switch rv.Kind {
	case policy.RightValueList:
		out := make([]string, len(rv.List))
		for i, item := range rv.List {
			s, err := r.ResolveScalar(ctx, item.String)
			if err != nil {
				return nil, false, err
			}
			out[i] = s
		}
		return out, true, nil

	case policy.RightValueFunctionCall:
		return r.resolveFunctionCallList(ctx, rv)

	case policy.RightValueString:
		m := exactVariableRefPattern.FindStringSubmatch(rv.String)
		if m == nil {
			return nil, false, nil
		}
		val, ok := ctx.LookupVariable(m[1])
		if !ok || val.Kind != evalctx.ValueSlist {
			return nil, false, nil
		}
		return val.Slist, true, nil

	default:
		return nil, false, nil
	}
}

// resolveFunctionCallList evaluates a function-call right-value through
// Starlark and reports whether the result is list-shaped.
func (r *Resolver) resolveFunctionCallList(ctx *evalctx.EvalContext, rv policy.RightValue) ([]string, bool, error) {
	out, err := r.callFunction(ctx, rv)
	if err != nil {
		return nil, false, err
	}
	items, ok := out.([]interface{})
	if !ok {
		return nil, false, nil
	}
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = fmt.Sprintf("%v", item)
	}
	return result, true, nil
}

// callFunction looks up rv.Call.Name in the function table, binds its
// arguments (each resolved as a scalar first), and runs the script,
// returning the Starlark global named "result".
func (r *Resolver) callFunction(ctx *evalctx.EvalContext, rv policy.RightValue) (interface{}, error) {
	if rv.Call == nil {
		return nil, fmt.Errorf("functions: malformed function-call right-value")
	}
	script, ok := r.scripts[rv.Call.Name]
	if !ok {
		return nil, fmt.Errorf("functions: no Starlark function named %q is defined", rv.Call.Name)
	}

	args := make([]string, len(rv.Call.Args))
	for i, a := range rv.Call.Args {
		s, err := r.ResolveScalar(ctx, a.String)
		if err != nil {
			return nil, fmt.Errorf("functions: %s: argument %d: %w", rv.Call.Name, i, err)
		}
		args[i] = s
	}

	input := make(map[string]interface{}, len(args))
	callArgs := make([]string, len(args))
	for i, a := range args {
		argName := fmt.Sprintf("_arg%d", i)
		input[argName] = a
		callArgs[i] = argName
	}

	program := fmt.Sprintf("%s\nresult = %s(%s)\n", script, rv.Call.Name, strings.Join(callArgs, ", "))

	res, err := r.evaluator.Evaluate(context.Background(), program, input)
	if err != nil {
		return nil, fmt.Errorf("functions: %s: %w", rv.Call.Name, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("functions: %s: %s", rv.Call.Name, res.Error)
	}

	out, ok := res.Output["result"]
	if !ok {
		return nil, fmt.Errorf("functions: %s: script did not set a result", rv.Call.Name)
	}
	return out, nil
}
