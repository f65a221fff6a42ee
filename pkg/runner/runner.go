// Package runner implements the top-level control loop that ties the
// policy model, evaluation context, promise expander, lock manager,
// and per-promise-type actuators together into one agent run: parse
// (out of scope here) -> Validate -> iterate bundles -> push an Eval
// Context frame -> expand each promise -> dispatch to the actuator
// registered for its promise type, guarded by the Lock Manager -> fold
// the outcome back into the run's aggregate result.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/expand"
	"github.com/promised/agent/pkg/locks"
	"github.com/promised/agent/pkg/policy"
	"github.com/promised/agent/pkg/telemetry"
)

// PromiseActuator brings one concrete, already-expanded promise into
// its declared state. Implementations are registered per promise type
// (e.g. "packages" -> a pkg/pkgmodule-backed actuator, "edit_line" ->
// one that drives pkg/editline.Run over the referenced bundle).
type PromiseActuator interface {
	Actuate(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error)
}

// PromiseActuatorFunc adapts a plain function to the PromiseActuator
// interface.
type PromiseActuatorFunc func(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error)

func (f PromiseActuatorFunc) Actuate(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error) {
	return f(ctx, evalCtx, promiseType, concrete)
}

// Registry maps a promise type name to the actuator responsible for
// it. A promise type with no registered actuator is skipped with a
// WARN outcome rather than failing the whole run, so a policy can
// exercise promise types this build doesn't yet implement without
// aborting.
type Registry struct {
	actuators map[string]PromiseActuator
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actuators: make(map[string]PromiseActuator)}
}

// Register associates promiseType with actuator, returning the
// Registry for chaining.
func (r *Registry) Register(promiseType string, actuator PromiseActuator) *Registry {
	r.actuators[promiseType] = actuator
	return r
}

func (r *Registry) lookup(promiseType string) (PromiseActuator, bool) {
	a, ok := r.actuators[promiseType]
	return a, ok
}

// Resolver is re-exported from pkg/expand so callers constructing a
// Runner don't also need to import pkg/expand directly.
type Resolver = expand.Resolver

// Runner is the control loop over one already-validated Policy.
type Runner struct {
	registry *Registry
	locks    *locks.Manager
	resolver Resolver
	now      func() time.Time
}

// Options configures a Runner.
type Options struct {
	Registry *Registry
	Locks    *locks.Manager
	Resolver Resolver
	// Now returns the current time; defaults to time.Now. Tests inject
	// a fixed clock so lock throttling is deterministic.
	Now func() time.Time
}

// New builds a Runner from opts.
func New(opts Options) *Runner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{registry: opts.Registry, locks: opts.Locks, resolver: opts.Resolver, now: now}
}

// Result is the outcome of running one bundle.
type Result struct {
	Outcome       agentlib.Outcome
	PromiseErrors []*PromiseError
}

// PromiseError records a non-fatal per-promise failure: the run
// continues evaluating later promises, but the failure is surfaced to
// the caller rather than silently swallowed.
type PromiseError struct {
	PromiseType string
	Promiser    string
	Err         error
}

func (e *PromiseError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.PromiseType, e.Promiser, e.Err)
}

// RunBundle evaluates every section of bundle in the fixed agent
// section order, expanding and actuating every promise whose class
// guard is currently satisfied, and folds every promise's outcome into
// the bundle's aggregate result.
func (r *Runner) RunBundle(ctx context.Context, evalCtx *evalctx.EvalContext, bundle *policy.Bundle) (Result, error) {
	evalCtx.EnterBundle(bundle.Name)
	defer evalCtx.ExitBundle(bundle.Name)

	result := Result{Outcome: agentlib.NOOP}

	for _, promiseType := range policy.AgentSectionOrder() {
		section := bundle.Section(promiseType)
		if section == nil {
			continue
		}
		if evalCtx.ShouldAbortBundle() {
			result.Outcome = agentlib.Worst(result.Outcome, agentlib.INTERRUPTED)
			break
		}

		if err := r.runSection(ctx, evalCtx, section, promiseType, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Runner) runSection(ctx context.Context, evalCtx *evalctx.EvalContext, section *policy.BundleSection, promiseType string, result *Result) error {
	actuator, registered := r.registry.lookup(promiseType)

	for _, promise := range section.Promises {
		if evalCtx.ShouldAbortBundle() {
			break
		}

		defined, err := evalCtx.IsDefinedClass(promise.ClassGuard)
		if err != nil {
			return fmt.Errorf("runner: evaluating class guard for %q: %w", promise.Promiser, err)
		}
		if !defined {
			result.Outcome = agentlib.Worst(result.Outcome, agentlib.SKIPPED)
			continue
		}

		if !registered {
			result.Outcome = agentlib.Worst(result.Outcome, agentlib.WARN)
			result.PromiseErrors = append(result.PromiseErrors, &PromiseError{
				PromiseType: promiseType, Promiser: promise.Promiser,
				Err: fmt.Errorf("no actuator registered for promise type %q", promiseType),
			})
			continue
		}

		if err := r.expandAndActuate(ctx, evalCtx, promiseType, promise, actuator, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) expandAndActuate(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, promise *policy.Promise, actuator PromiseActuator, result *Result) error {
	it, err := expand.NewIterator(evalCtx, promise, r.resolver)
	if err != nil {
		return fmt.Errorf("runner: expanding %q: %w", promise.Promiser, err)
	}

	runID := runIDFromContext(ctx)

	for {
		concrete, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("runner: expanding %q: %w", promise.Promiser, err)
		}
		if !ok {
			break
		}

		promiseID := concrete.Handle
		if promiseID == "" {
			promiseID = concrete.Promiser
		}
		promiseCtx := telemetry.WithActuatorContext(
			telemetry.WithPromiseContext(ctx, runID, promiseID, concrete.Promiser, promiseType),
			promiseType, "")

		var outcome agentlib.Outcome
		evalCtx.PushPromiseFrame(concrete.Promiser)
		actuateErr := telemetry.RecordActuatorOperation(promiseCtx, promiseType, "actuate", func() error {
			var actuateErr error
			outcome, actuateErr = actuator.Actuate(promiseCtx, evalCtx, promiseType, concrete)
			return actuateErr
		})
		evalCtx.PopPromiseFrame()

		status := "succeeded"
		if actuateErr != nil {
			status = "failed"
		}
		telemetry.EndPromiseContext(promiseCtx, runID, promiseID, concrete.Promiser, promiseType, status, actuateErr)

		if actuateErr != nil {
			result.Outcome = agentlib.Worst(result.Outcome, agentlib.FAIL)
			result.PromiseErrors = append(result.PromiseErrors, &PromiseError{
				PromiseType: promiseType, Promiser: concrete.Promiser, Err: actuateErr,
			})
			// One promise failing, of any error class, never stops the
			// rest of the bundle from being evaluated: convergence means
			// every other promise still gets its chance to be kept.
			continue
		}
		result.Outcome = agentlib.Worst(result.Outcome, outcome)

		if outcome == agentlib.CHANGE {
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				tel.Metrics.RecordDriftDetection(promiseType, "repaired")
				_ = tel.Events.PublishDriftDetected(concrete.Promiser, 1)
			}
		}
	}
	return nil
}

// runIDKey is the context key under which RunPolicy stashes the run ID
// it derives, so expandAndActuate's per-promise telemetry can tag
// events and logs with the same run without threading an extra
// parameter through RunBundle/runSection.
type runIDKey struct{}

func runIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return "adhoc"
}

// RunPolicy evaluates every bundle of type "agent" in p, in
// declaration order, stopping early if any bundle requests a full-run
// abort.
func (r *Runner) RunPolicy(ctx context.Context, evalCtx *evalctx.EvalContext, p *policy.Policy) (Result, error) {
	runID := p.ReleaseID
	if runID == "" {
		runID = "adhoc"
	}
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	ctx = telemetry.WithRunContext(ctx, runID, "agent")

	overall := Result{Outcome: agentlib.NOOP}
	var runErr error
	for _, bundle := range p.Bundles {
		if bundle.Type != "agent" {
			continue
		}
		res, err := r.RunBundle(ctx, evalCtx, bundle)
		overall.Outcome = agentlib.Worst(overall.Outcome, res.Outcome)
		overall.PromiseErrors = append(overall.PromiseErrors, res.PromiseErrors...)
		if err != nil {
			runErr = err
			break
		}
		if evalCtx.ShouldAbortAll() {
			break
		}
	}

	status := "succeeded"
	if runErr != nil || overall.Outcome == agentlib.FAIL || overall.Outcome == agentlib.INTERRUPTED {
		status = "failed"
	}
	telemetry.EndRunContext(ctx, runID, status, runErr)

	return overall, runErr
}
