package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
)

// NewSearchCmd constructs the `patentrag search` command, which prints the
// stored chunks nearest to a query.
func NewSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query> [top_k]",
		Short: "Rank stored chunks against a query",
		Long: `Embed the query and print the top_k nearest embedded chunks (default 5),
closest first. Each result is printed as

  <patent_id> | <chunk_id> | <distance>
  <snippet>

Examples:
  patentrag search "variable pitch rotor blade"
  patentrag search "lithium anode coating" 10`,
		Args: usageArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			topK, err := parseTopK(args, 1)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			stack, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer stack.Close()

			retriever, err := rag.NewRetriever(stack.embedder, stack.store)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			results, err := retriever.Search(ctx, args[0], topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

// printResults writes one block per result in rank order.
func printResults(w io.Writer, results []rag.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No embedded chunks found.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s | %s | %.4f\n%s\n\n", r.PatentID, r.ChunkID, r.Distance, r.Snippet)
	}
}
