// Package embedder provides implementations of the rag.Embedder interface for
// converting a single text into a dense vector. OpenAI (and Azure OpenAI)
// and Ollama are reached over plain HTTP; Gemini goes through the genai SDK.
// Every failure is reported as a *rag.ProviderError.
package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an Azure endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// model is the embedding model name (e.g. "text-embedding-ada-002").
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// azure selects Azure-style auth (api-key header) over Bearer token.
	azure bool
	// apiVersion is the Azure OpenAI API version query param (ignored for OpenAI).
	apiVersion string
	// client is the shared HTTP client; its timeout bounds every call.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the desired vector length (0 = model default). Only
	// text-embedding-3 models accept it; it is omitted from the request
	// when zero.
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// Timeout bounds each embedding call. Defaults to 30s.
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
	}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// openaiErrorMessage pulls error.message out of a failed response body.
func openaiErrorMessage(raw []byte) string {
	var body struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		return body.Error.Message
	}
	return ""
}

// Embed converts text into its embedding with exactly one API call.
// A response without data[0].embedding is reported as malformed.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	provider := "openai"
	url := e.baseURL + "/embeddings"
	header := http.Header{}
	if e.azure {
		provider = "azure"
		url = e.baseURL + "/deployments/" + e.model + "/embeddings?api-version=" + e.apiVersion
		header.Set("api-key", e.apiKey)
	} else {
		header.Set("Authorization", "Bearer "+e.apiKey)
	}

	var result openaiEmbedResponse
	req := openaiEmbedRequest{Input: text, Model: e.model, Dimensions: e.dimensions}
	if err := postJSON(ctx, e.client, provider, url, header, req, &result, openaiErrorMessage); err != nil {
		return nil, err
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, malformed(provider, "response has no data[0].embedding")
	}
	return result.Data[0].Embedding, nil
}
