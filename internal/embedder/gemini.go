package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/54b3r/patentrag/internal/rag"
)

// GeminiEmbedder implements rag.Embedder using the Gemini EmbedContent API
// through the genai SDK. It is safe for concurrent use.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
	timeout    time.Duration
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions truncates the output vector when > 0.
	Dimensions int
	// Timeout bounds each embedding call. Defaults to 30s.
	Timeout time.Duration
}

// NewGeminiEmbedder constructs a GeminiEmbedder backed by the Gemini API.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: int32(cfg.Dimensions),
		timeout:    timeout,
	}, nil
}

// Embed converts text into its embedding with exactly one API call.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(e.dimensions)}
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, rag.StatusError("gemini", apiErr.Code, apiErr.Message)
		}
		return nil, rag.TransportError("gemini", err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, malformed("gemini", "response has no embeddings[0].values")
	}
	return resp.Embeddings[0].Values, nil
}
