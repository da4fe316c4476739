package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/rag/ragtest"
)

// words returns n space-separated tokens w0..w(n-1).
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestDriver_IngestDefaultWindow(t *testing.T) {
	t.Parallel()
	store := ragtest.NewMemoryStore()
	d, err := NewDriver(store, nil)
	require.NoError(t, err)

	var msgs []string
	n, err := d.Ingest(context.Background(), "US42", words(1600), func(m string) { msgs = append(msgs, m) })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, store.Len())
	assert.Len(t, msgs, 2)

	c0, ok := store.Get("US42-0")
	require.True(t, ok)
	assert.Equal(t, "US42", c0.PatentID)
	assert.Nil(t, c0.Embedding)
	assert.True(t, strings.HasPrefix(c0.Text, "w0 w1 "))
	assert.True(t, strings.HasSuffix(c0.Text, " w799"))

	c2, ok := store.Get("US42-2")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(c2.Text, "w1200 "))
	assert.Len(t, strings.Fields(c2.Text), 400)
}

func TestNewDriver_WindowDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		cfg         *Config
		wantSize    int
		wantOverlap int
	}{
		{"nil config", nil, 800, 200},
		{"zero size keeps default", &Config{ChunkOverlap: 50}, 800, 50},
		{"zero overlap is honoured", &Config{ChunkSize: 100}, 100, 0},
		{"negative overlap selects default", &Config{ChunkSize: 300, ChunkOverlap: -1}, 300, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := NewDriver(ragtest.NewMemoryStore(), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, d.cfg.ChunkSize)
			assert.Equal(t, tt.wantOverlap, d.cfg.ChunkOverlap)
		})
	}
}

func TestDriver_EmptyTextStoresNothing(t *testing.T) {
	t.Parallel()
	store := ragtest.NewMemoryStore()
	d, err := NewDriver(store, nil)
	require.NoError(t, err)

	n, err := d.Ingest(context.Background(), "US1", " \n ", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.Len())
}

func TestDriver_ReingestFailsOnDuplicate(t *testing.T) {
	t.Parallel()
	store := ragtest.NewMemoryStore()
	d, err := NewDriver(store, &Config{ChunkSize: 5, ChunkOverlap: 1})
	require.NoError(t, err)

	_, err = d.Ingest(context.Background(), "US7", words(12), nil)
	require.NoError(t, err)
	before := store.Len()

	n, err := d.Ingest(context.Background(), "US7", words(12), nil)
	assert.ErrorIs(t, err, rag.ErrPersistence)
	assert.Zero(t, n)
	assert.Equal(t, before, store.Len())
}

func TestDriver_StoreFailure(t *testing.T) {
	t.Parallel()
	store := ragtest.NewMemoryStore()
	store.FailSave = fmt.Errorf("%w: connection reset", rag.ErrPersistence)
	d, err := NewDriver(store, nil)
	require.NoError(t, err)

	_, err = d.Ingest(context.Background(), "US1", "some text", nil)
	assert.ErrorIs(t, err, rag.ErrPersistence)
}

func TestDriver_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewDriver(nil, nil)
	assert.Error(t, err)

	d, err := NewDriver(ragtest.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, err = d.Ingest(context.Background(), "", "text", nil)
	assert.True(t, errors.Is(err, rag.ErrInvalidArgument))
}

// shapeEmbedder maps text to {index of its first token, word count}. Equal
// texts get equal vectors and the three default windows of words(1600) are
// pairwise distinct.
func shapeEmbedder() *ragtest.EmbedFunc {
	return &ragtest.EmbedFunc{Fn: func(_ context.Context, text string) ([]float32, error) {
		fields := strings.Fields(text)
		var first int
		if len(fields) > 0 {
			_, _ = fmt.Sscanf(fields[0], "w%d", &first)
		}
		return []float32{float32(first), float32(len(fields))}, nil
	}}
}

func TestPipeline_IngestEmbedSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	vs := ragtest.NewMemoryStore()
	emb := shapeEmbedder()

	d, err := NewDriver(vs, nil)
	require.NoError(t, err)
	n, err := d.Ingest(ctx, "US42", words(1600), nil)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	b, err := NewBackfill(emb, vs, BackfillConfig{Workers: 2})
	require.NoError(t, err)
	report, err := b.Run(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 3, report.Embedded)

	r, err := rag.NewRetriever(emb, vs)
	require.NoError(t, err)
	c0, ok := vs.Get("US42-0")
	require.True(t, ok)

	got, err := r.Search(ctx, c0.Text, rag.DefaultTopK)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "US42-0", got[0].ChunkID)
	assert.Equal(t, "US42", got[0].PatentID)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.Greater(t, got[1].Distance, got[0].Distance)
}
