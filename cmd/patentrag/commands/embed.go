package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/ingestion"
	"github.com/54b3r/patentrag/internal/logging"
)

// NewEmbedCmd constructs the `patentrag embed` command, which runs the
// backfill job over every chunk that has no embedding yet.
func NewEmbedCmd() *cobra.Command {
	var workers int
	var rps float64

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed every stored chunk that has no vector yet",
		Long: `Run the embedding backfill: list chunks without an embedding, embed each
with the provider directly (the query cache is bypassed), and write the
vector only if the chunk is still unembedded. One failing chunk never stops
the others; failures are listed at the end and the command exits non-zero if
any occurred.

Re-running is safe: already embedded chunks are not listed again.

Examples:
  patentrag embed
  patentrag embed --workers 8 --rps 5`,
		Args: usageArgs(0, 0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			stack, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			defer stack.Close()

			runs, closeRuns := openRunStore(log)
			defer closeRuns()

			if !cmd.Flags().Changed("workers") {
				workers = getEnvInt("BACKFILL_WORKERS", ingestion.DefaultWorkers)
			}
			if !cmd.Flags().Changed("rps") {
				rps = getEnvFloat("BACKFILL_RPS", 0)
			}

			job, err := ingestion.NewBackfill(stack.provider, stack.store, ingestion.BackfillConfig{
				Workers:       workers,
				RatePerSecond: rps,
				Recorder:      runs,
			})
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			report, err := job.Run(ctx, func(msg string) { fmt.Fprintln(out, msg) })
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			for _, f := range report.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  failed %s: %v\n", f.ChunkID, f.Err)
			}
			log.Info("embed complete", slog.String("run_id", report.RunID))
			if err := report.Err(); err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			fmt.Fprintln(out, "All chunks embedded.")
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", ingestion.DefaultWorkers, "Concurrent embedding calls (env BACKFILL_WORKERS)")
	cmd.Flags().Float64Var(&rps, "rps", 0, "Provider calls per second across workers, 0 = unlimited (env BACKFILL_RPS)")

	return cmd
}
