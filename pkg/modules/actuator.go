package modules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/policy"
)

// Actuator adapts a Registry to pkg/runner's PromiseActuator interface:
// one promise type dispatches to whichever custom promise module
// claimed it, or fails with "no module" if none did.
type Actuator struct {
	Registry *Registry
}

// NewActuator builds an Actuator over registry.
func NewActuator(registry *Registry) *Actuator {
	return &Actuator{Registry: registry}
}

// Actuate satisfies runner.PromiseActuator.
func (a *Actuator) Actuate(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error) {
	bridge, ok, err := a.Registry.Get(ctx, promiseType)
	if err != nil {
		return agentlib.FAIL, agentlib.NewTransientError("modules: loading module for %q: %v", promiseType, err).
			WithPromise(concrete.Promiser)
	}
	if !ok {
		return agentlib.FAIL, agentlib.NewPermanentError("modules: no custom promise module registered for promise type %q", promiseType).
			WithPromise(concrete.Promiser).WithCode(agentlib.CodeValidation)
	}

	attrs, err := attributesJSON(concrete)
	if err != nil {
		return agentlib.FAIL, agentlib.NewPermanentError("modules: encoding attributes for %q: %v", concrete.Promiser, err).
			WithPromise(concrete.Promiser)
	}

	resp, err := bridge.Evaluate(ctx, EvaluateRequest{Promiser: concrete.Promiser, Attributes: attrs})
	if err != nil {
		return agentlib.FAIL, agentlib.NewTransientError("modules: evaluating %q via %q module: %v", concrete.Promiser, promiseType, err).
			WithPromise(concrete.Promiser).WithCode(agentlib.CodeModuleFailed)
	}
	if resp.Error != "" {
		return agentlib.FAIL, agentlib.NewPermanentError("modules: %s", resp.Error).
			WithPromise(concrete.Promiser).WithCode(agentlib.CodeModuleFailed)
	}

	return parseOutcome(resp.Outcome), nil
}

func parseOutcome(s string) agentlib.Outcome {
	switch s {
	case "change":
		return agentlib.CHANGE
	case "warn":
		return agentlib.WARN
	case "fail":
		return agentlib.FAIL
	default:
		return agentlib.NOOP
	}
}

// attributesJSON flattens a concrete promise's constraints into a
// plain JSON object, the shape a custom promise module's
// module_evaluate expects: scalar constraints become strings, list
// constraints become arrays.
func attributesJSON(concrete *policy.Promise) (json.RawMessage, error) {
	attrs := make(map[string]any, len(concrete.Constraints))
	for _, c := range concrete.Constraints {
		v, err := rightValueToAny(c.RVal)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: %w", c.LVal, err)
		}
		attrs[c.LVal] = v
	}
	return json.Marshal(attrs)
}

func rightValueToAny(rv policy.RightValue) (any, error) {
	switch rv.Kind {
	case policy.RightValueString:
		return rv.String, nil
	case policy.RightValueList:
		items := make([]any, len(rv.List))
		for i, item := range rv.List {
			v, err := rightValueToAny(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected right-value kind %q in a fully expanded promise", rv.Kind)
	}
}
