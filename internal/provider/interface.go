// Package provider selects and constructs the chat-completion backend used to
// synthesize cited answers. Every backend is an eino BaseChatModel so the
// answer layer never depends on a specific vendor SDK.
// Supported backends: OpenAI, Azure OpenAI, Ollama, Google Gemini, Volcengine Ark.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported chat providers.
type Backend string

const (
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects Volcengine Ark model serving.
	BackendArk Backend = "ark"
)

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderGemini holds Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0-1.0).
	Temperature float32
}

// Config holds all provider-level configuration. Only the sub-struct that
// matches Backend is consulted.
type Config struct {
	Backend     Backend
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ollama      ProviderOllama
	Gemini      ProviderGemini
	Ark         ProviderArk
	Tuning      SharedTuning
}

// ModelName returns the model or deployment the selected backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendOllama:
		return c.Ollama.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}

// Validate reports the first missing setting for the selected backend, naming
// the environment variable that supplies it.
func (c *Config) Validate() error {
	var missing []string
	req := func(v, env string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendOpenAI:
		req(c.OpenAI.APIKey, "OPENAI_API_KEY")
		req(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		req(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		req(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		req(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendOllama:
		req(c.Ollama.Host, "OLLAMA_HOST")
		req(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendGemini:
		req(c.Gemini.APIKey, "GOOGLE_API_KEY")
		req(c.Gemini.Model, "GEMINI_MODEL")
	case BackendArk:
		req(c.Ark.APIKey, "ARK_API_KEY")
		req(c.Ark.Model, "ARK_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: openai, azure, ollama, gemini, ark)", c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series
// or codex reasoning model, which rejects temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}
