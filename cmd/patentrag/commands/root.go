// Package commands defines all Cobra CLI commands for the patentrag binary.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/audit"
	"github.com/54b3r/patentrag/internal/config"
	"github.com/54b3r/patentrag/internal/logging"
)

// errNoCommand is returned when patentrag is run without a subcommand.
var errNoCommand = errors.New("no command given")

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "patentrag",
		Short: "Semantic search and cited answers over patent documents",
		Long: `patentrag indexes patent documents for retrieval-augmented question answering.

Typical flow:
  patentrag ingest ./US1234567.pdf US1234567   extract, chunk and store a document
  patentrag embed                              embed every stored chunk without a vector
  patentrag search "rotor blade pitch" 3       rank stored chunks against a query
  patentrag query "How is pitch controlled?"   answer from the top chunks with citations
  patentrag serve                              expose /search and /query over HTTP

Configuration is read from environment variables, a .env file in the working
directory, and a YAML file (~/.patentrag/config.yaml), in that precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Positional arguments reach RunE so an unknown command can print the
		// full usage instead of cobra's one-line error.
		Args: cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.LoadDotEnv(".env"); err != nil {
				return err
			}

			log := logging.New()
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			// Rebuild after YAML may have set LOG_LEVEL / LOG_FORMAT.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetOut(cmd.ErrOrStderr())
			_ = cmd.Usage()
			if len(args) > 0 {
				return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return errNoCommand
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.patentrag/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewEmbedCmd(),
		NewSearchCmd(),
		NewQueryCmd(),
		NewServeCmd(),
		NewRunsCmd(),
		NewVersionCmd(),
	)

	return root
}
