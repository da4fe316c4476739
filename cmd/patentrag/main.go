// Command patentrag ingests patent documents into a vector store, embeds
// them, and answers questions about them with cited retrieval-augmented
// generation. It runs either as a batch CLI or as an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/patentrag/cmd/patentrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
