// Package ingestion turns extracted document text into stored chunks and
// later backfills their embeddings.
//
// Ingestion and embedding are deliberately separate passes: the Driver
// persists text-only chunks, and the Backfill job embeds whatever is still
// pending. This is invoked by the `patentrag ingest` and `patentrag embed`
// commands.
package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/patentrag/internal/chunker"
	"github.com/54b3r/patentrag/internal/rag"
)

// Config holds the chunking parameters for the Driver.
type Config struct {
	// ChunkSize is the window length in words. Values <= 0 select
	// chunker.DefaultSize.
	ChunkSize int

	// ChunkOverlap is the number of words shared by consecutive windows.
	// Zero means no overlap; negative values select chunker.DefaultOverlap.
	ChunkOverlap int
}

// Driver chunks documents and persists each chunk without an embedding.
type Driver struct {
	store rag.VectorStore
	cfg   Config
}

// NewDriver constructs a Driver over store. A nil cfg uses the default
// (800, 200) window; a non-nil cfg is taken field by field as documented on
// Config.
func NewDriver(store rag.VectorStore, cfg *Config) (*Driver, error) {
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	c := Config{ChunkSize: chunker.DefaultSize, ChunkOverlap: chunker.DefaultOverlap}
	if cfg != nil {
		if cfg.ChunkSize > 0 {
			c.ChunkSize = cfg.ChunkSize
		}
		if cfg.ChunkOverlap >= 0 {
			c.ChunkOverlap = cfg.ChunkOverlap
		}
	}
	return &Driver{store: store, cfg: c}, nil
}

// Ingest splits text into word windows and saves them as
// "{patentID}-{i}" in order. It stops at the first persistence failure and
// returns how many chunks were saved before it; there is no rollback, and
// re-ingesting the same document fails on the first duplicate chunk ID.
// Progress is reported via the optional progress callback.
func (d *Driver) Ingest(ctx context.Context, patentID, text string, progress func(msg string)) (int, error) {
	if strings.TrimSpace(patentID) == "" {
		return 0, fmt.Errorf("ingestion: %w: patent ID must not be empty", rag.ErrInvalidArgument)
	}
	if progress == nil {
		progress = func(string) {}
	}

	chunks := chunker.Split(text, d.cfg.ChunkSize, d.cfg.ChunkOverlap)
	progress(fmt.Sprintf("chunked %s into %d chunks", patentID, len(chunks)))

	for i, body := range chunks {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("ingestion: %s: %w", patentID, err)
		}
		c := rag.Chunk{ChunkID: rag.ChunkID(patentID, i), PatentID: patentID, Text: body}
		if err := d.store.SaveChunk(ctx, c); err != nil {
			return i, fmt.Errorf("ingestion: save %s: %w", c.ChunkID, err)
		}
	}

	progress(fmt.Sprintf("stored %d chunks for %s", len(chunks), patentID))
	return len(chunks), nil
}
