// Package config provides layered configuration for patentrag.
// Precedence, lowest to highest: defaults → YAML file → .env file → env vars.
// Every layer is projected onto environment variables, which the rest of the
// program reads, so existing env-driven deployments are unaffected.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. PATENTRAG_CONFIG environment variable
//  3. ~/.patentrag/config.yaml
//  4. ./patentrag.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Database configures the Postgres/pgvector chunk store.
	Database DatabaseConfig `yaml:"database"`

	// Cache configures the Redis embedding cache.
	Cache CacheConfig `yaml:"cache"`

	// Vector selects the vector store backend.
	Vector VectorConfig `yaml:"vector"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Model configures the chat model used for answers.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Backfill tunes the embedding backfill job.
	Backfill BackfillConfig `yaml:"backfill"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Runs configures backfill run history persistence.
	Runs RunsConfig `yaml:"runs"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	// URL is the connection string. Prefer env var DATABASE_URL.
	URL string `yaml:"url"`
	// Timeout bounds each store query, as a Go duration.
	Timeout string `yaml:"timeout"`
}

// CacheConfig holds Redis settings.
type CacheConfig struct {
	// URL is the redis:// connection string.
	URL string `yaml:"url"`
	// TTL is the embedding entry lifetime, as a Go duration.
	TTL string `yaml:"ttl"`
}

// VectorConfig selects the vector store.
type VectorConfig struct {
	// Backend is postgres or qdrant.
	Backend string `yaml:"backend"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: openai, azure, ollama, gemini, ark.
	Provider    string  `yaml:"provider"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// Timeout bounds each chat completion, as a Go duration.
	Timeout string       `yaml:"timeout"`
	OpenAI  OpenAIConfig `yaml:"openai"`
	Azure   AzureConfig  `yaml:"azure"`
	Ollama  OllamaConfig `yaml:"ollama"`
	Gemini  GeminiConfig `yaml:"gemini"`
	Ark     ArkConfig    `yaml:"ark"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (openai, azure, ollama, gemini).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
}

// BackfillConfig holds backfill job settings.
type BackfillConfig struct {
	Workers int `yaml:"workers"`
	// RPS paces provider calls; 0 disables pacing.
	RPS float32 `yaml:"rps"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var PATENTRAG_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// RunsConfig holds backfill run history settings.
type RunsConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"DATABASE_URL", func(c *Config) string { return c.Database.URL }},
	{"STORE_TIMEOUT", func(c *Config) string { return c.Database.Timeout }},
	{"REDIS_URL", func(c *Config) string { return c.Cache.URL }},
	{"CACHE_TTL", func(c *Config) string { return c.Cache.TTL }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Vector.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"CHAT_TIMEOUT", func(c *Config) string { return c.Model.Timeout }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"BACKFILL_WORKERS", func(c *Config) string { return intStr(c.Backfill.Workers) }},
	{"BACKFILL_RPS", func(c *Config) string { return float32Str(c.Backfill.RPS) }},
	{"PATENTRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"PATENTRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"PATENTRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"PATENTRAG_RUNS_DB", func(c *Config) string { return c.Runs.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv applies KEY=VALUE pairs from each existing file in paths to
// unset environment variables. Missing files are skipped. It returns the
// files that were applied.
func LoadDotEnv(paths ...string) ([]string, error) {
	var applied []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return applied, fmt.Errorf("config: failed to load %s: %w", p, err)
		}
		applied = append(applied, p)
	}
	return applied, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("PATENTRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".patentrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("patentrag.yaml"); err == nil {
		return "patentrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
