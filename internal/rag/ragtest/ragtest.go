// Package ragtest provides in-memory implementations of the rag contracts
// for use in tests of the packages built on top of them.
package ragtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/54b3r/patentrag/internal/rag"
)

// MemoryStore is a rag.VectorStore held entirely in memory. Nearest uses a
// brute-force Euclidean scan.
type MemoryStore struct {
	mu     sync.Mutex
	chunks map[string]rag.Chunk

	// Saves counts successful SaveChunk calls.
	Saves int

	// FailSave, FailSet and FailNearest inject errors into the matching
	// operation when non-nil.
	FailSave    error
	FailSet     error
	FailNearest error

	// FailSetFor injects an error into SetEmbedding for specific chunk IDs.
	FailSetFor map[string]error
}

var _ rag.VectorStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]rag.Chunk)}
}

// SaveChunk implements rag.VectorStore.
func (m *MemoryStore) SaveChunk(_ context.Context, c rag.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	if _, ok := m.chunks[c.ChunkID]; ok {
		return fmt.Errorf("%w: chunk %q already exists", rag.ErrPersistence, c.ChunkID)
	}
	c.Embedding = nil
	m.chunks[c.ChunkID] = c
	m.Saves++
	return nil
}

// PendingChunks implements rag.VectorStore.
func (m *MemoryStore) PendingChunks(_ context.Context) ([]rag.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rag.Chunk
	for _, c := range m.chunks {
		if c.Embedding == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

// SetEmbedding implements rag.VectorStore.
func (m *MemoryStore) SetEmbedding(_ context.Context, chunkID string, vec []float32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailSetFor[chunkID]; err != nil {
		return false, err
	}
	if m.FailSet != nil {
		return false, m.FailSet
	}
	c, ok := m.chunks[chunkID]
	if !ok || c.Embedding != nil {
		return false, nil
	}
	c.Embedding = append([]float32(nil), vec...)
	m.chunks[chunkID] = c
	return true, nil
}

// Nearest implements rag.VectorStore.
func (m *MemoryStore) Nearest(_ context.Context, vec []float32, k int) ([]rag.Neighbor, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", rag.ErrInvalidArgument, k)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNearest != nil {
		return nil, m.FailNearest
	}
	var out []rag.Neighbor
	for _, c := range m.chunks {
		if c.Embedding == nil {
			continue
		}
		out = append(out, rag.Neighbor{
			Chunk:    rag.Chunk{ChunkID: c.ChunkID, PatentID: c.PatentID, Text: c.Text},
			Distance: L2(vec, c.Embedding),
		})
	}
	rag.SortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Get returns the stored chunk, including its embedding.
func (m *MemoryStore) Get(chunkID string) (rag.Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[chunkID]
	return c, ok
}

// Len returns the number of stored chunks.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// Ping implements rag.VectorStore.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements rag.VectorStore.
func (m *MemoryStore) Close() error { return nil }

// L2 is the Euclidean distance between a and b over their common prefix.
func L2(a, b []float32) float64 {
	var sum float64
	for i := 0; i < len(a) && i < len(b); i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// EmbedFunc adapts a function to rag.Embedder and counts invocations.
type EmbedFunc struct {
	mu    sync.Mutex
	calls int
	Fn    func(ctx context.Context, text string) ([]float32, error)
}

// Embed implements rag.Embedder.
func (e *EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.Fn(ctx, text)
}

// Calls reports how many times Embed was invoked.
func (e *EmbedFunc) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// StaticEmbedder returns an EmbedFunc that maps known texts to fixed
// vectors and fails for anything else.
func StaticEmbedder(vectors map[string][]float32) *EmbedFunc {
	return &EmbedFunc{Fn: func(_ context.Context, text string) ([]float32, error) {
		v, ok := vectors[text]
		if !ok {
			return nil, &rag.ProviderError{Provider: "static", Kind: rag.KindStatus, StatusCode: 500,
				Err: fmt.Errorf("no vector for %q", text)}
		}
		return v, nil
	}}
}
