package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/promised/agent/pkg/policy"
)

func newValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bundle.json>",
		Short: "Parse and semantically validate a policy bundle without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPolicy(args[0])
			if err != nil {
				return err
			}

			errs := policy.Validate(p)
			if flags.jsonOut {
				return json.NewEncoder(os.Stdout).Encode(errs)
			}
			if len(errs) == 0 {
				log.Info().Str("path", args[0]).Msg("promised: policy is valid")
				return nil
			}
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, e.String())
			}
			return fmt.Errorf("promised: %d validation error(s)", len(errs))
		},
	}
}

// loadPolicy reads a JSON-encoded policy bundle from path. JSON is the
// on-disk representation pkg/policy round-trips through ToJSON/FromJSON;
// pkg/config is the higher-level CUE authoring surface that compiles
// down to this same shape.
func loadPolicy(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("promised: reading %s: %w", path, err)
	}
	p, err := policy.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("promised: parsing %s: %w", path, err)
	}
	if !p.IsRunnable() {
		return nil, fmt.Errorf("promised: %s declares no runnable agent bundle", path)
	}
	return p, nil
}
