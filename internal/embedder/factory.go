package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/patentrag/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOpenAIModel = "text-embedding-ada-002"
	defaultOllamaModel = "nomic-embed-text"
	defaultGeminiModel = "text-embedding-004"

	// defaultOpenAIDimensions is the output dimension of text-embedding-ada-002.
	defaultOpenAIDimensions = 1536
	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// Settings is the resolved embedding configuration.
type Settings struct {
	// Backend is one of openai, azure, ollama, gemini.
	Backend string
	// Model is the embedding model or Azure deployment name.
	Model string
	// APIKey authenticates against hosted backends.
	APIKey string
	// Endpoint is the API base URL or Ollama host.
	Endpoint string
	// Dimensions is the vector width the store is created with.
	Dimensions int
	// RequestedDimensions is set when EMBEDDING_DIMENSIONS asked the provider
	// for a non-default output width.
	RequestedDimensions bool
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Timeout bounds each embedding call.
	Timeout time.Duration
}

// ModelID identifies the model that produced a vector. It is mixed into
// embedding cache keys, so an explicitly requested width is part of it.
func (s Settings) ModelID() string {
	id := s.Backend + "/" + s.Model
	if s.RequestedDimensions {
		id += "@" + strconv.Itoa(s.Dimensions)
	}
	return id
}

// DefaultDimensions returns the default embedding vector size for the given
// backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// SettingsFromEnv resolves embedding settings from the environment.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER (default: openai)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
//  7. EMBEDDING_TIMEOUT bounds each call (default: 30s)
func SettingsFromEnv() Settings {
	s := Settings{
		Backend: getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
		APIKey:  getEnv("EMBEDDING_API_KEY"),
		Timeout: getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
	}
	s.Dimensions = DefaultDimensions(s.Backend)
	s.RequestedDimensions = getEnvInt("EMBEDDING_DIMENSIONS", 0) > 0
	s.Endpoint = getEnv("EMBEDDING_ENDPOINT")

	switch s.Backend {
	case "openai":
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		if s.APIKey == "" {
			s.APIKey = getEnv("OPENAI_API_KEY")
		}
		if s.Endpoint == "" {
			s.Endpoint = getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
		}
	case "azure":
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		if s.APIKey == "" {
			s.APIKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if s.Endpoint == "" {
			s.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		s.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
	case "ollama":
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		if s.Endpoint == "" {
			s.Endpoint = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
	case "gemini":
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel)
		if s.APIKey == "" {
			s.APIKey = getEnvOrDefault("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY"))
		}
	}
	return s
}

// New constructs the rag.Embedder described by s. Hosted backends without an
// API key are rejected here so a missing key fails at startup.
func New(ctx context.Context, s Settings) (rag.Embedder, error) {
	switch s.Backend {
	case "openai":
		if s.APIKey == "" {
			return nil, fmt.Errorf("embedder: %w: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY", rag.ErrInvalidArgument)
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    s.Endpoint,
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: dimensionsParam(s),
			Timeout:    s.Timeout,
		}), nil

	case "azure":
		if s.APIKey == "" {
			return nil, fmt.Errorf("embedder: %w: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY", rag.ErrInvalidArgument)
		}
		if s.Endpoint == "" {
			return nil, fmt.Errorf("embedder: %w: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", rag.ErrInvalidArgument)
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    s.Endpoint + "/openai",
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: dimensionsParam(s),
			Azure:      true,
			APIVersion: s.APIVersion,
			Timeout:    s.Timeout,
		}), nil

	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:    s.Endpoint,
			Model:   s.Model,
			Timeout: s.Timeout,
		}), nil

	case "gemini":
		if s.APIKey == "" {
			return nil, fmt.Errorf("embedder: %w: gemini requires GOOGLE_API_KEY, GEMINI_API_KEY or EMBEDDING_API_KEY", rag.ErrInvalidArgument)
		}
		e, err := NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Timeout:    s.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, fmt.Errorf("embedder: %w: unknown backend %q (valid: openai, azure, ollama, gemini)", rag.ErrInvalidArgument, s.Backend)
	}
}

// NewFromEnv resolves settings from the environment and builds the embedder.
func NewFromEnv(ctx context.Context) (rag.Embedder, Settings, error) {
	s := SettingsFromEnv()
	e, err := New(ctx, s)
	return e, s, err
}

// dimensionsParam returns the dimensions request field. Only
// text-embedding-3 models accept it, and only when explicitly configured.
func dimensionsParam(s Settings) int {
	if getEnv("EMBEDDING_DIMENSIONS") == "" {
		return 0
	}
	return s.Dimensions
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration from the named variable, or returns
// fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
