package rag

import (
	"context"
	"fmt"
	"strings"
)

// DefaultRetriever implements Retriever by combining an Embedder (normally
// the caching embedder) and a VectorStore. It embeds the query at retrieval
// time and delegates nearest-neighbour ordering to the store.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the nearest-neighbour search.
	store VectorStore
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and VectorStore.
func NewRetriever(embedder Embedder, store VectorStore) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &DefaultRetriever{embedder: embedder, store: store}, nil
}

// ClampTopK returns topK raised to at least 1.
func ClampTopK(topK int) int {
	return max(topK, 1)
}

// Search embeds query and returns the topK nearest chunks. Any failure is
// reported as ErrRetrieval wrapping the cause; partial results are never
// returned.
func (r *DefaultRetriever) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: %w: query must not be empty", ErrRetrieval, ErrInvalidArgument)
	}
	topK = ClampTopK(topK)

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrRetrieval, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embedder returned an empty vector", ErrRetrieval)
	}

	neighbors, err := r.store.Nearest(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: nearest-neighbour lookup: %w", ErrRetrieval, err)
	}

	results := make([]SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, SearchResult{
			PatentID: n.Chunk.PatentID,
			ChunkID:  n.Chunk.ChunkID,
			Snippet:  n.Chunk.Text,
			Distance: n.Distance,
		})
	}
	return results, nil
}
