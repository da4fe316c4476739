package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/version"
)

// NewVersionCmd constructs the `patentrag version` subcommand.
// Version, commit and build date are injected at build time via -ldflags.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the patentrag version, git commit, and build date",
		Args:  usageArgs(0, 0),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patentrag %s\n", version.String())
		},
	}
}
