// Package commands implements the promised CLI's subcommands.
package commands

import (
	"context"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags every subcommand inherits.
type globalFlags struct {
	dbPath    string
	verbose   bool
	jsonOut   bool
	modulesDir string
}

// Execute builds and runs the promised root command against ctx.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	root, flags := newRootCommand(version, commit, buildDate)
	root.AddCommand(newValidateCommand(flags))
	root.AddCommand(newApplyCommand(flags))
	root.AddCommand(newFactsCommand(flags))
	root.AddCommand(newInitCommand(flags))
	return root.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) (*cobra.Command, *globalFlags) {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "promised",
		Short:   "A declarative, convergent configuration-management agent",
		Version: version + " (" + commit + ", " + buildDate + ")",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.dbPath, "db", "/var/lib/promised/promised.db",
		"path to the agent's SQLite state database (locks, change log, package cache)")
	root.PersistentFlags().StringVar(&flags.modulesDir, "modules-dir", "/etc/promised/modules",
		"directory of custom promise modules (one subdirectory per module, each holding a manifest.yaml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "emit machine-readable JSON output")

	return root, flags
}
