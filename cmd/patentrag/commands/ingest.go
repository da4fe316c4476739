package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/extract"
	"github.com/54b3r/patentrag/internal/ingestion"
	"github.com/54b3r/patentrag/internal/logging"
)

// NewIngestCmd constructs the `patentrag ingest` command, which extracts a
// document's text, splits it into overlapping word windows, and stores the
// chunks without embeddings.
func NewIngestCmd() *cobra.Command {
	var chunkSize, overlap int

	cmd := &cobra.Command{
		Use:   "ingest <pdf_path> <patent_id>",
		Short: "Extract, chunk and store a patent document",
		Long: `Extract the text of a document, split it into overlapping word windows and
store each window as chunk "<patent_id>-<n>". Embeddings are computed later
by 'patentrag embed'.

Supported inputs: .pdf (via pdftotext), .txt, .md, .html.

Re-ingesting a patent ID that is already stored fails on the first duplicate
chunk; chunks saved before a failure are kept.

Examples:
  patentrag ingest ./US1234567.pdf US1234567
  VECTOR_BACKEND=qdrant patentrag ingest ./EP0001.txt EP0001`,
		Args: usageArgs(2, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			path, patentID := args[0], args[1]
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Ingesting '%s' as patent ID '%s'\n", path, patentID)

			text, err := extract.File(ctx, path)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Fprintf(out, "Extracted %d characters of text\n", len(text))

			vs, _, err := openStore(ctx, log, storeDimensions())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vs.Close()

			driver, err := ingestion.NewDriver(vs, &ingestion.Config{ChunkSize: chunkSize, ChunkOverlap: overlap})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			n, err := driver.Ingest(ctx, patentID, text, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("ingest: persisted %d chunks before failure: %w", n, err)
			}
			fmt.Fprintf(out, "Persisted all %d chunks\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 800, "Words per chunk")
	cmd.Flags().IntVar(&overlap, "overlap", 200, "Words shared between consecutive chunks")

	return cmd
}
