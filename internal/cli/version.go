package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, rootOpts)
			if out.json() {
				return out.writeJSON(map[string]string{
					"version": Version,
					"commit":  Commit,
					"built":   Date,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workletd %s\nCommit: %s\nBuilt: %s\n", Version, Commit, Date)
			return nil
		},
	}
}
