package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
)

// NewQueryCmd constructs the `patentrag query` command, which answers a
// question from the top_k retrieved chunks with numbered citations.
func NewQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question> [top_k]",
		Short: "Answer a question from stored patents with citations",
		Long: `Retrieve the top_k chunks nearest to the question (default 5) and ask the
chat model to answer using only that context. Citation [n] in the answer
refers to the n-th retrieved chunk.

The chat backend is selected with MODEL_PROVIDER (openai, azure, ollama,
gemini, ark).

Examples:
  patentrag query "How does the claimed damper reduce blade vibration?"
  MODEL_PROVIDER=ollama patentrag query "What materials are claimed?" 8`,
		Args: usageArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			topK, err := parseTopK(args, 1)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			stack, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer stack.Close()

			retriever, err := rag.NewRetriever(stack.embedder, stack.store)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			syn, flush, err := buildSynthesizer(ctx, log, retriever)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer flush()

			ans, err := syn.Answer(ctx, args[0], topK)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ans.Answer)
			return nil
		},
	}
}
