//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration performs a real HTTP call to a locally running
// Ollama instance to validate the embedder end-to-end.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb := NewOllamaEmbedder(&OllamaConfig{
		Host:  host,
		Model: model,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"A rotor blade having a serrated trailing edge to reduce acoustic emissions.",
		"A pharmaceutical composition comprising a kinase inhibitor and a carrier.",
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
		}
		if len(vec) == 0 {
			t.Fatalf("embedding for %q is empty", text)
		}
		t.Logf("dim=%d, first_3=%v", len(vec), vec[:3])
		embeddings = append(embeddings, vec)
	}

	identical := len(embeddings[0]) == len(embeddings[1])
	for j := 0; identical && j < len(embeddings[0]); j++ {
		identical = embeddings[0][j] == embeddings[1][j]
	}
	if identical {
		t.Error("embeddings for distinct texts are identical; model may not be working correctly")
	}

	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d before creating the store)", model, len(embeddings[0]), len(embeddings[0]))
}
