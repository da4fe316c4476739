package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/rag/ragtest"
)

// seedStore saves and embeds the given chunks.
func seedStore(t *testing.T, chunks map[string][]float32) *ragtest.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := ragtest.NewMemoryStore()
	for id, vec := range chunks {
		require.NoError(t, store.SaveChunk(ctx, rag.Chunk{ChunkID: id, PatentID: "US1", Text: "text " + id}))
		if vec != nil {
			ok, err := store.SetEmbedding(ctx, id, vec)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
	return store
}

func TestNewRetriever_RejectsNil(t *testing.T) {
	t.Parallel()
	_, err := rag.NewRetriever(nil, ragtest.NewMemoryStore())
	assert.Error(t, err)
	_, err = rag.NewRetriever(ragtest.StaticEmbedder(nil), nil)
	assert.Error(t, err)
}

func TestSearch_OrdersByDistanceAndTruncates(t *testing.T) {
	t.Parallel()
	store := seedStore(t, map[string][]float32{
		"US1-0": {1, 0},
		"US1-1": {0, 1},
		"US1-2": {0.9, 0.1},
		"US1-3": nil,
	})
	emb := ragtest.StaticEmbedder(map[string][]float32{"widget": {1, 0}})
	r, err := rag.NewRetriever(emb, store)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "widget", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "US1-0", got[0].ChunkID)
	assert.Equal(t, "US1-2", got[1].ChunkID)
	assert.Equal(t, "text US1-0", got[0].Snippet)
	assert.Equal(t, "US1", got[0].PatentID)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
	assert.Equal(t, 1, emb.Calls())
}

func TestSearch_RepeatedSearchIsDeterministic(t *testing.T) {
	t.Parallel()
	store := seedStore(t, map[string][]float32{
		"US1-0": {1, 0},
		"US1-1": {0, 1},
		"US2-0": {0, 1},
		"US2-1": {-1, 0},
		"US3-0": {0.5, 0.5},
	})
	emb := ragtest.StaticEmbedder(map[string][]float32{"widget": {0, 0}})
	r, err := rag.NewRetriever(emb, store)
	require.NoError(t, err)

	first, err := r.Search(context.Background(), "widget", 5)
	require.NoError(t, err)
	require.Len(t, first, 5)
	for range 10 {
		again, err := r.Search(context.Background(), "widget", 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearch_NeverReturnsUnembedded(t *testing.T) {
	t.Parallel()
	store := seedStore(t, map[string][]float32{
		"US1-0": {1, 1},
		"US1-1": nil,
		"US1-2": nil,
	})
	r, err := rag.NewRetriever(ragtest.StaticEmbedder(map[string][]float32{"q": {0, 0}}), store)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "US1-0", got[0].ChunkID)
}

func TestSearch_TiesBrokenByChunkID(t *testing.T) {
	t.Parallel()
	store := seedStore(t, map[string][]float32{
		"US1-2": {1, 0},
		"US1-0": {-1, 0},
		"US1-1": {0, 1},
	})
	r, err := rag.NewRetriever(ragtest.StaticEmbedder(map[string][]float32{"q": {0, 0}}), store)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"US1-0", "US1-1", "US1-2"},
		[]string{got[0].ChunkID, got[1].ChunkID, got[2].ChunkID})
}

func TestSearch_ClampsTopK(t *testing.T) {
	t.Parallel()
	store := seedStore(t, map[string][]float32{"US1-0": {1}, "US1-1": {2}})
	r, err := rag.NewRetriever(ragtest.StaticEmbedder(map[string][]float32{"q": {0}}), store)
	require.NoError(t, err)

	for _, k := range []int{0, -3} {
		got, err := r.Search(context.Background(), "q", k)
		require.NoError(t, err)
		assert.Len(t, got, 1, "topK=%d", k)
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	t.Parallel()
	r, err := rag.NewRetriever(ragtest.StaticEmbedder(map[string][]float32{"q": {0}}), ragtest.NewMemoryStore())
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_Errors(t *testing.T) {
	t.Parallel()
	storeErr := errors.New("connection refused")

	tests := []struct {
		name   string
		query  string
		emb    rag.Embedder
		store  func() *ragtest.MemoryStore
		target error
	}{
		{
			name:   "empty query",
			query:  "   ",
			emb:    ragtest.StaticEmbedder(nil),
			store:  ragtest.NewMemoryStore,
			target: rag.ErrInvalidArgument,
		},
		{
			name:   "provider failure",
			query:  "unknown",
			emb:    ragtest.StaticEmbedder(nil),
			store:  ragtest.NewMemoryStore,
			target: rag.ErrProvider,
		},
		{
			name:  "store failure",
			query: "q",
			emb:   ragtest.StaticEmbedder(map[string][]float32{"q": {1}}),
			store: func() *ragtest.MemoryStore {
				s := ragtest.NewMemoryStore()
				s.FailNearest = storeErr
				return s
			},
			target: storeErr,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := rag.NewRetriever(tc.emb, tc.store())
			require.NoError(t, err)

			got, err := r.Search(context.Background(), tc.query, 5)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, rag.ErrRetrieval)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestChunkIDAndSequence(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "US123-0", rag.ChunkID("US123", 0))
	assert.Equal(t, "US-2020-001-17", rag.ChunkID("US-2020-001", 17))
	assert.Equal(t, "17", rag.Sequence("US-2020-001-17"))
	assert.Equal(t, "plain", rag.Sequence("plain"))
}

func TestSortNeighbors(t *testing.T) {
	t.Parallel()
	n := []rag.Neighbor{
		{Chunk: rag.Chunk{ChunkID: "b"}, Distance: 1},
		{Chunk: rag.Chunk{ChunkID: "a"}, Distance: 1},
		{Chunk: rag.Chunk{ChunkID: "c"}, Distance: 0.5},
	}
	rag.SortNeighbors(n)
	assert.Equal(t, "c", n[0].Chunk.ChunkID)
	assert.Equal(t, "a", n[1].Chunk.ChunkID)
	assert.Equal(t, "b", n[2].Chunk.ChunkID)
}
