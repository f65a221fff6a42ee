package pkgmodule

import (
	"context"
	"fmt"
	"time"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/locks"
)

// Action names which direction a package promise is pushing state.
type Action string

const (
	ActionPresent Action = "present"
	ActionAbsent  Action = "absent"
)

// PackageRequest describes one package promise's concrete demand after
// expansion: a name (or local file), optional version/architecture
// pin, the target state, and any module-specific options.
type PackageRequest struct {
	Type         PackageType
	NameOrFile   string
	Version      string
	Architecture string
	Action       Action
	Options      []string
}

// Actuator drives one package module wrapper through the global lock,
// cache refresh, install/remove, and post-change validation sequence.
type Actuator struct {
	Wrapper *Wrapper
	Cache   Cache
	Locks   *locks.Manager
}

// NewActuator builds an Actuator over wrapper, backed by cache for
// inventory bookkeeping and locks for serializing access to the
// wrapper across concurrently evaluated promises.
func NewActuator(wrapper *Wrapper, cache Cache, lockMgr *locks.Manager) *Actuator {
	return &Actuator{Wrapper: wrapper, Cache: cache, Locks: lockMgr}
}

// Actuate brings req's package into the requested state, taking the
// global package lock for the duration (mirroring the historical
// constraint that only one package operation may run against a module
// at a time), and returns the outcome of the attempt.
func (a *Actuator) Actuate(ctx context.Context, req PackageRequest, now time.Time) (agentlib.Outcome, error) {
	status, handle, err := a.Locks.AcquireGlobalPackageLock(0, 0, now)
	if err != nil {
		return agentlib.FAIL, err
	}
	if status != locks.StatusAcquired {
		return agentlib.SKIPPED, nil
	}
	defer func() { _ = a.Locks.YieldLock(handle, now) }()

	if err := UpdateCache(ctx, a.Wrapper, a.Cache, req.Options, CacheInstalled); err != nil {
		return agentlib.FAIL, err
	}

	installed, err := IsInstalled(a.Cache, a.Wrapper.Name, req.NameOrFile, req.Version, req.Architecture)
	if err != nil {
		return agentlib.FAIL, err
	}

	alreadySatisfied := (req.Action == ActionPresent && installed) || (req.Action == ActionAbsent && !installed)
	if alreadySatisfied {
		return agentlib.NOOP, nil
	}

	var actuateErr error
	switch req.Action {
	case ActionPresent:
		actuateErr = a.install(ctx, req)
	case ActionAbsent:
		actuateErr = a.remove(ctx, req)
	default:
		return agentlib.FAIL, agentlib.NewPermanentError("pkgmodule: unknown action %q", req.Action).WithCode(agentlib.CodeValidation)
	}
	if actuateErr != nil {
		return agentlib.FAIL, actuateErr
	}

	return a.validate(ctx, req, now)
}

func (a *Actuator) install(ctx context.Context, req PackageRequest) error {
	var verb Verb
	var request *Request
	switch req.Type {
	case PackageTypeFile:
		verb = VerbFileInstall
		request = NewRequest(verb).With(FieldFile, req.NameOrFile)
	default:
		verb = VerbRepoInstall
		request = NewRequest(verb).With(FieldName, req.NameOrFile)
	}
	if req.Version != "" {
		request.With(FieldVersion, req.Version)
	}
	if req.Architecture != "" {
		request.With(FieldArchitecture, req.Architecture)
	}
	request.WithOptions(req.Options)

	resp, err := a.Wrapper.Communicate(ctx, request)
	if err != nil {
		return err
	}
	if resp.HasErrors() {
		return agentlib.NewPermanentError("pkgmodule: %s: %v", a.Wrapper.Name, resp.Errors()).WithCode(agentlib.CodeModuleFailed)
	}
	return nil
}

func (a *Actuator) remove(ctx context.Context, req PackageRequest) error {
	request := NewRequest(VerbRemove).With(FieldName, req.NameOrFile)
	if req.Version != "" {
		request.With(FieldVersion, req.Version)
	}
	if req.Architecture != "" {
		request.With(FieldArchitecture, req.Architecture)
	}
	request.WithOptions(req.Options)

	resp, err := a.Wrapper.Communicate(ctx, request)
	if err != nil {
		return err
	}
	if resp.HasErrors() {
		return agentlib.NewPermanentError("pkgmodule: %s: %v", a.Wrapper.Name, resp.Errors()).WithCode(agentlib.CodeModuleFailed)
	}
	return nil
}

// validate refreshes the installed and local-updates caches after an
// install/remove attempt and checks whether the package now satisfies
// the requested action. A mismatch between what was asked and what
// actually happened is reported as FAIL rather than trusted blindly.
func (a *Actuator) validate(ctx context.Context, req PackageRequest, now time.Time) (agentlib.Outcome, error) {
	if err := UpdateCache(ctx, a.Wrapper, a.Cache, req.Options, CacheInstalled); err != nil {
		return agentlib.FAIL, fmt.Errorf("pkgmodule: refreshing installed cache after change: %w", err)
	}
	if err := UpdateCache(ctx, a.Wrapper, a.Cache, req.Options, CacheLocalUpdates); err != nil {
		return agentlib.FAIL, fmt.Errorf("pkgmodule: refreshing local-updates cache after change: %w", err)
	}

	installed, err := IsInstalled(a.Cache, a.Wrapper.Name, req.NameOrFile, req.Version, req.Architecture)
	if err != nil {
		return agentlib.FAIL, err
	}

	switch req.Action {
	case ActionPresent:
		if installed {
			return agentlib.CHANGE, nil
		}
		return agentlib.FAIL, agentlib.NewTransientError("pkgmodule: %s still not installed after repo-install/file-install", req.NameOrFile).WithCode(agentlib.CodeModuleFailed)
	default:
		if !installed {
			return agentlib.CHANGE, nil
		}
		return agentlib.FAIL, agentlib.NewTransientError("pkgmodule: %s still installed after remove", req.NameOrFile).WithCode(agentlib.CodeModuleFailed)
	}
}
