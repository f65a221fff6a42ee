package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promised/agent/pkg/policy"
)

func newInitCommand(flags *globalFlags) *cobra.Command {
	var bundleName string

	cmd := &cobra.Command{
		Use:   "init <bundle.json>",
		Short: "Scaffold a new, empty agent bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("promised: %s already exists", path)
			}

			p := policy.New()
			p.AppendBundle("default", "agent", bundleName, nil, path, policy.SourceOffset{Line: 1})

			data, err := policy.ToJSON(p)
			if err != nil {
				return fmt.Errorf("promised: encoding new bundle: %w", err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("promised: writing %s: %w", path, err)
			}
			fmt.Printf("promised: wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&bundleName, "bundle", "main", "name of the agent bundle to scaffold")
	return cmd
}
