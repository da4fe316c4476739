package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/store"
)

// defaultRunsShown is how many runs `patentrag runs` lists without an argument.
const defaultRunsShown = 10

// NewRunsCmd constructs the `patentrag runs` command, which lists recent
// embedding backfill runs from the local run history.
func NewRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs [n]",
		Short: "List recent embedding backfill runs",
		Args:  usageArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n := defaultRunsShown
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 1 {
					return fmt.Errorf("runs: %w: n must be a positive integer, got %q", rag.ErrInvalidArgument, args[0])
				}
				n = v
			}

			rs, closeRuns := openRunStore(logging.FromContext(ctx))
			defer closeRuns()
			if rs == nil {
				return fmt.Errorf("runs: run history is unavailable")
			}

			runs, err := rs.Recent(ctx, n)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
}

// printRuns writes one line per run, plus an indented line per failure.
func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No backfill runs recorded.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %6s  total=%d embedded=%d skipped=%d failed=%d\n",
			r.Started.Local().Format(time.DateTime),
			r.ID,
			r.Finished.Sub(r.Started).Round(time.Millisecond),
			r.Total, r.Embedded, r.Skipped, len(r.Failures),
		)
		for _, f := range r.Failures {
			fmt.Fprintf(w, "    %s: %s\n", f.ChunkID, f.Error)
		}
	}
}
