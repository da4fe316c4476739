// Package rag defines the retrieval side of the pipeline: the chunk and
// search-result types, the VectorStore and Embedder contracts, the error
// taxonomy shared by every stage, and the Retriever that ties a cached
// embedder to a nearest-neighbour store.
// Concrete stores (Postgres/pgvector, Qdrant) satisfy VectorStore so the
// answer and ingestion layers never depend on a specific backend.
package rag

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTopK is the number of results returned when a caller does not
// specify top_k.
const DefaultTopK = 5

// Chunk is the atomic retrievable unit: one word window of a document.
type Chunk struct {
	// ChunkID is "{PatentID}-{sequence}" and is globally unique.
	ChunkID string

	// PatentID identifies the source document. Opaque to this package.
	PatentID string

	// Text is the chunk's word-window content.
	Text string

	// Embedding is nil until backfill populates it.
	Embedding []float32
}

// ChunkID derives the identifier of the seq-th chunk (zero-based) of a document.
func ChunkID(patentID string, seq int) string {
	return fmt.Sprintf("%s-%d", patentID, seq)
}

// Sequence returns the token after the last "-" in chunkID, which is the
// chunk's position within its document. If chunkID has no separator the
// whole identifier is returned.
func Sequence(chunkID string) string {
	if i := strings.LastIndex(chunkID, "-"); i >= 0 {
		return chunkID[i+1:]
	}
	return chunkID
}

// Neighbor is one row returned by VectorStore.Nearest.
type Neighbor struct {
	// Chunk carries the stored identifiers and text. Embedding is not loaded.
	Chunk Chunk

	// Distance is the non-negative dissimilarity to the query vector
	// (0 = identical). Results are ordered by ascending Distance.
	Distance float64
}

// SearchResult is the request-scoped view of a retrieved chunk.
type SearchResult struct {
	PatentID string  `json:"patent_id"`
	ChunkID  string  `json:"chunk_id"`
	Snippet  string  `json:"snippet"`
	Distance float64 `json:"distance"`
}

// VectorStore owns all durable chunk state.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// SaveChunk inserts a chunk without an embedding. Re-saving an existing
	// ChunkID fails with ErrPersistence; no upsert is performed.
	SaveChunk(ctx context.Context, c Chunk) error

	// PendingChunks lists every chunk whose embedding is not yet set,
	// ordered by ChunkID.
	PendingChunks(ctx context.Context) ([]Chunk, error)

	// SetEmbedding stores vec for chunkID only if no embedding is present.
	// It reports whether the write happened; false means the chunk was
	// already embedded (or does not exist) and nothing changed.
	SetEmbedding(ctx context.Context, chunkID string, vec []float32) (bool, error)

	// Nearest returns at most k embedded chunks ordered by ascending distance
	// to vec, ties broken by ChunkID. Chunks without an embedding are never
	// returned. k must be >= 1.
	Nearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder turns a single text into a fixed-length vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed makes exactly one embedding computation for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers "top-K chunks nearest to this query".
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Search returns at most topK results ordered by ascending distance.
	// topK < 1 is clamped to 1.
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}
