package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// hostFacts is the small, always-available set of hard classes a
// bundle's class guards can rely on without any promise having run
// yet.
type hostFacts struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	NumCPU   int    `json:"num_cpu"`
}

func newFactsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "facts",
		Short: "Print the hard classes this host reports about itself",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname, err := os.Hostname()
			if err != nil {
				hostname = "unknown"
			}
			facts := hostFacts{
				Hostname: hostname,
				OS:       runtime.GOOS,
				Arch:     runtime.GOARCH,
				NumCPU:   runtime.NumCPU(),
			}
			if flags.jsonOut {
				return json.NewEncoder(os.Stdout).Encode(facts)
			}
			fmt.Printf("hostname=%s os=%s arch=%s num_cpu=%d\n", facts.Hostname, facts.OS, facts.Arch, facts.NumCPU)
			return nil
		},
	}
}
