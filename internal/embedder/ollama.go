package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/54b3r/patentrag/internal/rag"
)

// OllamaEmbedder implements rag.Embedder using the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required; Ollama runs locally.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// client is the shared HTTP client; its timeout bounds every call.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Timeout bounds each embedding call. Defaults to 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		host:   cfg.Host,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}
}

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func ollamaErrorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		return body.Error
	}
	return ""
}

// Embed converts text into its embedding with exactly one API call.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: e.model, Input: text}
	if err := postJSON(ctx, e.client, "ollama", e.host+"/api/embed", nil, req, &result, ollamaErrorMessage); err != nil {
		return nil, err
	}

	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, malformed("ollama", "response has no embeddings[0]")
	}
	return result.Embeddings[0], nil
}

// malformed is a shorthand for the provider's malformed-response error.
func malformed(provider, detail string) error {
	return rag.MalformedError(provider, detail)
}
