package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/patentrag/internal/rag"
)

// chatModelMarkers are name fragments of chat/completion models that are
// not suitable for embedding.
var chatModelMarkers = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"claude",
	"deepseek",
	"qwen",
	"gemini-",
}

// looksLikeChatModel reports whether model resembles a chat model rather
// than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before any store or cache is opened,
// so a broken embedding configuration fails at startup rather than on the
// first embed call. Clearly broken settings return an error; a model name
// that looks like a chat model only logs a warning.
func Validate(log *slog.Logger, s Settings) error {
	switch s.Backend {
	case "openai", "gemini":
		if s.APIKey == "" {
			return fmt.Errorf("embedder: %w: no %s API key found; set EMBEDDING_API_KEY", rag.ErrInvalidArgument, s.Backend)
		}
	case "azure":
		if s.APIKey == "" || s.Endpoint == "" {
			return fmt.Errorf("embedder: %w: azure needs both an API key and an endpoint", rag.ErrInvalidArgument)
		}
	case "ollama":
	default:
		return fmt.Errorf("embedder: %w: unknown backend %q", rag.ErrInvalidArgument, s.Backend)
	}

	if s.Dimensions <= 0 {
		return fmt.Errorf("embedder: %w: dimensions must be positive, got %d", rag.ErrInvalidArgument, s.Dimensions)
	}

	if looksLikeChatModel(s.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", s.Model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-ada-002, nomic-embed-text"),
		)
	}
	return nil
}
