package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/policy"
	"github.com/promised/agent/pkg/runner"
	"github.com/promised/agent/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type literalResolver struct{}

func (literalResolver) ResolveScalar(ctx *evalctx.EvalContext, s string) (string, error) { return s, nil }
func (literalResolver) ResolveList(ctx *evalctx.EvalContext, rv policy.RightValue) ([]string, bool, error) {
	if rv.Kind == policy.RightValueList {
		out := make([]string, len(rv.List))
		for i, v := range rv.List {
			out[i] = v.String
		}
		return out, true, nil
	}
	return nil, false, nil
}

func recordingActuator(seen *[]string, outcome agentlib.Outcome, err error) runner.PromiseActuatorFunc {
	return func(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error) {
		*seen = append(*seen, promiseType+":"+concrete.Promiser)
		return outcome, err
	}
}

func TestRunBundle_EvaluatesSectionsInAgentOrder(t *testing.T) {
	p := policy.New()
	bundle := p.AppendBundle("default", "agent", "example", nil, "a.cf", policy.SourceOffset{Line: 1})

	filesSection := bundle.AppendSection("files", policy.SourceOffset{Line: 2})
	_, err := filesSection.AppendPromise("/etc/motd", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	pkgSection := bundle.AppendSection("packages", policy.SourceOffset{Line: 4})
	_, err = pkgSection.AppendPromise("htop", policy.SourceOffset{Line: 5})
	require.NoError(t, err)

	var seen []string
	reg := runner.NewRegistry().
		Register("files", recordingActuator(&seen, agentlib.NOOP, nil)).
		Register("packages", recordingActuator(&seen, agentlib.CHANGE, nil))

	r := runner.New(runner.Options{Registry: reg, Locks: nil, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	// RunBundle does not use the Lock Manager directly (actuators that
	// need it, like pkgmodule.Actuator, take it themselves), so a nil
	// Locks field is fine here.
	result, err := r.RunBundle(context.Background(), evalCtx, bundle)
	require.NoError(t, err)
	assert.Equal(t, agentlib.CHANGE, result.Outcome)
	assert.Equal(t, []string{"packages:htop", "files:/etc/motd"}, seen, "packages precedes files in the fixed agent section order")
}

func TestRunBundle_SkipsPromiseWhenClassGuardNotDefined(t *testing.T) {
	p := policy.New()
	bundle := p.AppendBundle("default", "agent", "example", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := bundle.AppendSection("files", policy.SourceOffset{Line: 2})
	promise, err := section.AppendPromise("/etc/never", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	promise.ClassGuard = "this_class_is_never_defined"

	var seen []string
	reg := runner.NewRegistry().Register("files", recordingActuator(&seen, agentlib.CHANGE, nil))
	r := runner.New(runner.Options{Registry: reg, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	result, err := r.RunBundle(context.Background(), evalCtx, bundle)
	require.NoError(t, err)
	assert.Equal(t, agentlib.SKIPPED, result.Outcome)
	assert.Empty(t, seen)
}

func TestRunBundle_WarnsOnUnregisteredPromiseType(t *testing.T) {
	p := policy.New()
	bundle := p.AppendBundle("default", "agent", "example", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := bundle.AppendSection("services", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("nginx", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	reg := runner.NewRegistry()
	r := runner.New(runner.Options{Registry: reg, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	result, err := r.RunBundle(context.Background(), evalCtx, bundle)
	require.NoError(t, err)
	assert.Equal(t, agentlib.WARN, result.Outcome)
	require.Len(t, result.PromiseErrors, 1)
	assert.Equal(t, "services", result.PromiseErrors[0].PromiseType)
}

func TestRunBundle_OnePromiseFailingDoesNotStopOthers(t *testing.T) {
	p := policy.New()
	bundle := p.AppendBundle("default", "agent", "example", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := bundle.AppendSection("packages", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("broken", policy.SourceOffset{Line: 3})
	require.NoError(t, err)
	_, err = section.AppendPromise("fine", policy.SourceOffset{Line: 4})
	require.NoError(t, err)

	var seen []string
	reg := runner.NewRegistry().Register("packages", runner.PromiseActuatorFunc(
		func(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error) {
			seen = append(seen, concrete.Promiser)
			if concrete.Promiser == "broken" {
				return agentlib.FAIL, agentlib.NewPermanentError("simulated failure")
			}
			return agentlib.CHANGE, nil
		},
	))
	r := runner.New(runner.Options{Registry: reg, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	result, err := r.RunBundle(context.Background(), evalCtx, bundle)
	require.NoError(t, err)
	assert.Equal(t, agentlib.FAIL, result.Outcome)
	assert.Equal(t, []string{"broken", "fine"}, seen)
	require.Len(t, result.PromiseErrors, 1)
	assert.Equal(t, "broken", result.PromiseErrors[0].Promiser)
}

func TestRunPolicy_OnlyEvaluatesAgentTypeBundles(t *testing.T) {
	p := policy.New()
	agentBundle := p.AppendBundle("default", "agent", "main", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := agentBundle.AppendSection("files", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("/etc/motd", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	editBundle := p.AppendBundle("default", "edit_line", "fixup", nil, "a.cf", policy.SourceOffset{Line: 4})
	editSection := editBundle.AppendSection("insert_lines", policy.SourceOffset{Line: 5})
	_, err = editSection.AppendPromise("never seen", policy.SourceOffset{Line: 6})
	require.NoError(t, err)

	var seen []string
	reg := runner.NewRegistry().
		Register("files", recordingActuator(&seen, agentlib.NOOP, nil)).
		Register("insert_lines", recordingActuator(&seen, agentlib.CHANGE, nil))

	r := runner.New(runner.Options{Registry: reg, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	_, err = r.RunPolicy(context.Background(), evalCtx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"files:/etc/motd"}, seen, "edit_line bundles are driven separately, not by RunPolicy's agent-bundle loop")
}

func TestRunPolicy_PublishesDriftEventWhenTelemetryIsAttached(t *testing.T) {
	p := policy.New()
	bundle := p.AppendBundle("default", "agent", "example", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := bundle.AppendSection("packages", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("nginx", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	reg := runner.NewRegistry().Register("packages", runner.PromiseActuatorFunc(
		func(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error) {
			return agentlib.CHANGE, nil
		},
	))
	r := runner.New(runner.Options{Registry: reg, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(cfg)
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	var driftEvents []string
	tel.Events.Subscribe(func(event telemetry.Event) {
		if event.Type == telemetry.EventTypeDriftDetected {
			driftEvents = append(driftEvents, event.Promiser)
		}
	}, nil)

	ctx := tel.WithContext(context.Background())
	result, err := r.RunPolicy(ctx, evalCtx, p)
	require.NoError(t, err)
	assert.Equal(t, agentlib.CHANGE, result.Outcome)
	assert.Equal(t, []string{"nginx"}, driftEvents, "a CHANGE outcome is published as drift so subscribers observing the run see what was repaired")
}

func TestRunIDFromContext_DefaultsWhenPolicyHasNoReleaseID(t *testing.T) {
	p := policy.New()
	bundle := p.AppendBundle("default", "agent", "example", nil, "a.cf", policy.SourceOffset{Line: 1})
	section := bundle.AppendSection("files", policy.SourceOffset{Line: 2})
	_, err := section.AppendPromise("/etc/motd", policy.SourceOffset{Line: 3})
	require.NoError(t, err)

	var seen []string
	reg := runner.NewRegistry().Register("files", recordingActuator(&seen, agentlib.NOOP, nil))
	r := runner.New(runner.Options{Registry: reg, Resolver: literalResolver{}})
	evalCtx := evalctx.New(nil)

	// RunPolicy must not panic or block when no telemetry is attached to
	// the context and the policy carries no release ID.
	done := make(chan struct{})
	go func() {
		_, err := r.RunPolicy(context.Background(), evalCtx, p)
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPolicy did not return")
	}
}
