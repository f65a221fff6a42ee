package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/promised/agent/pkg/agentlib"
	"github.com/promised/agent/pkg/config/functions"
	"github.com/promised/agent/pkg/evalctx"
	"github.com/promised/agent/pkg/locks"
	"github.com/promised/agent/pkg/modules"
	"github.com/promised/agent/pkg/pkgmodule"
	"github.com/promised/agent/pkg/policy"
	"github.com/promised/agent/pkg/runner"
	"github.com/promised/agent/pkg/store"
)

func newApplyCommand(flags *globalFlags) *cobra.Command {
	var packageModulePath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply <bundle.json>",
		Short: "Validate a policy bundle and converge its promises against this host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := loadPolicy(args[0])
			if err != nil {
				return err
			}
			if errs := policy.Validate(p); len(errs) > 0 {
				return fmt.Errorf("promised: %s is not runnable: %w", args[0], errs)
			}

			st, closeStore, err := openStore(ctx, flags.dbPath)
			if err != nil {
				return err
			}
			defer closeStore()

			registry := runner.NewRegistry()
			if packageModulePath != "" {
				wrapper := pkgmodule.NewWrapper("apt", packageModulePath)
				if _, err := wrapper.NegotiateAPIVersion(ctx); err != nil {
					return fmt.Errorf("promised: negotiating package module API version: %w", err)
				}
				pkgActuator := pkgmodule.NewActuator(wrapper, st, locks.New(st))
				registry.Register("packages", runner.PromiseActuatorFunc(
					newPackageActuatorFunc(pkgActuator, dryRun)))
			}

			moduleRegistry, closeModules, err := loadModuleRegistry(ctx, flags.modulesDir)
			if err != nil {
				return err
			}
			defer closeModules()
			for _, promiseType := range moduleRegistry.PromiseTypes() {
				registry.Register(promiseType, modules.NewActuator(moduleRegistry))
			}

			// JSON bundles carry no named Starlark functions of their
			// own (those are authored in CUE and compiled via
			// pkg/config); a bundle whose constraints still reference
			// one by name will fail to resolve it at expansion time.
			r := runner.New(runner.Options{
				Registry: registry,
				Locks:    locks.New(st),
				Resolver: functions.New(nil),
			})
			evalCtx := evalctx.New(nil)

			result, err := r.RunPolicy(ctx, evalCtx, p)
			reportResult(flags, result)
			if err != nil {
				return fmt.Errorf("promised: run aborted: %w", err)
			}
			if result.Outcome == agentlib.FAIL {
				return fmt.Errorf("promised: %d promise(s) failed", len(result.PromiseErrors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packageModulePath, "package-module", "",
		"path to a package module adapter executable (e.g. providers/pkgmodule-apt) used for \"packages\" promises")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without actuating any promise")

	return cmd
}

// newPackageActuatorFunc adapts a concrete "packages" promise to
// pkgmodule.PackageRequest: the promiser is the package name, and its
// constraints carry the declared policy, version pin, and architecture
// list.
func newPackageActuatorFunc(actuator *pkgmodule.Actuator, dryRun bool) runner.PromiseActuatorFunc {
	return func(ctx context.Context, evalCtx *evalctx.EvalContext, promiseType string, concrete *policy.Promise) (agentlib.Outcome, error) {
		req := pkgmodule.PackageRequest{
			Type:       pkgmodule.PackageTypeRepo,
			NameOrFile: concrete.Promiser,
			Action:     pkgmodule.ActionPresent,
		}
		if c := concrete.Constraint("package_policy"); c != nil && c.RVal.String == "absent" {
			req.Action = pkgmodule.ActionAbsent
		}
		if c := concrete.Constraint("package_version"); c != nil {
			req.Version = c.RVal.String
		}
		if c := concrete.Constraint("package_architectures"); c != nil && len(c.RVal.List) > 0 {
			req.Architecture = c.RVal.List[0].String
		}
		if dryRun {
			log.Info().Str("package", req.NameOrFile).Str("action", string(req.Action)).
				Msg("promised: dry-run, skipping actuation")
			return agentlib.NOOP, nil
		}
		return actuator.Actuate(ctx, req, time.Now())
	}
}

func openStore(ctx context.Context, path string) (*store.SQLiteStore, func(), error) {
	st, err := store.New(store.Config{Path: path})
	if err != nil {
		return nil, nil, fmt.Errorf("promised: opening state database: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("promised: initializing state database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("promised: migrating state database: %w", err)
	}
	return st, func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("promised: closing state database")
		}
	}, nil
}

func loadModuleRegistry(ctx context.Context, dir string) (*modules.Registry, func(), error) {
	registry, err := modules.NewRegistry(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("promised: starting module runtime: %w", err)
	}
	closeFn := func() {
		if err := registry.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("promised: closing module runtime")
		}
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return registry, closeFn, nil
	}

	loader := modules.NewLoader(dir)
	manifests, wasms, err := loader.ScanDirectory(dir, func(path string, err error) {
		log.Warn().Str("path", path).Err(err).Msg("promised: skipping custom promise module")
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("promised: scanning %s: %w", dir, err)
	}
	for i, m := range manifests {
		if err := registry.Register(m, wasms[i]); err != nil {
			log.Warn().Str("module", m.Key()).Err(err).Msg("promised: could not register custom promise module")
		}
	}
	return registry, closeFn, nil
}

func reportResult(flags *globalFlags, result runner.Result) {
	if flags.jsonOut {
		return
	}
	log.Info().Str("outcome", string(result.Outcome)).Int("errors", len(result.PromiseErrors)).
		Msg("promised: run complete")
	for _, e := range result.PromiseErrors {
		log.Warn().Str("promise_type", e.PromiseType).Str("promiser", e.Promiser).Err(e.Err).Msg("promised: promise error")
	}
}
