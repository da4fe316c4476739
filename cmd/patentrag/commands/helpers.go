package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/answer"
	"github.com/54b3r/patentrag/internal/cache"
	"github.com/54b3r/patentrag/internal/embedder"
	"github.com/54b3r/patentrag/internal/provider"
	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/store"
	"github.com/54b3r/patentrag/internal/tracing"
)

// usageArgs accepts between min and max positional arguments and reports
// anything else as an invalid argument with the command's usage line.
func usageArgs(minArgs, maxArgs int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < minArgs || len(args) > maxArgs {
			return fmt.Errorf("%w: usage: %s", rag.ErrInvalidArgument, cmd.UseLine())
		}
		return nil
	}
}

// parseTopK reads the optional top_k argument at index i.
func parseTopK(args []string, i int) (int, error) {
	if len(args) <= i {
		return rag.DefaultTopK, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[i]))
	if err != nil {
		return 0, fmt.Errorf("%w: top_k must be an integer, got %q", rag.ErrInvalidArgument, args[i])
	}
	return rag.ClampTopK(n), nil
}

// openStore connects to the vector store selected by VECTOR_BACKEND and
// returns it with its readiness label.
func openStore(ctx context.Context, log *slog.Logger, dims int) (rag.VectorStore, string, error) {
	backend := getEnvOrDefault("VECTOR_BACKEND", "postgres")
	timeout := getEnvDuration("STORE_TIMEOUT", 10*time.Second)

	switch backend {
	case "postgres":
		s, err := rag.NewPGStore(ctx, &rag.PGConfig{
			URL:        os.Getenv("DATABASE_URL"),
			Dimensions: dims,
			MaxConns:   int32(getEnvInt("DATABASE_MAX_CONNS", 0)), //nolint:gosec // small operator-supplied value
			Timeout:    timeout,
		})
		if err != nil {
			return nil, "", err
		}
		log.Info("postgres store ready", slog.Int("dimensions", dims))
		return s, "postgres", nil
	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		collection := getEnvOrDefault("QDRANT_COLLECTION", "patent-chunks")
		s, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			Timeout:    timeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant store ready",
			slog.String("host", host),
			slog.Int("port", port),
			slog.String("collection", collection),
		)
		return s, "qdrant", nil
	default:
		return nil, "", fmt.Errorf("%w: unknown VECTOR_BACKEND %q (want postgres or qdrant)", rag.ErrInvalidArgument, backend)
	}
}

// storeDimensions is the vector width used when creating the store schema.
// It needs no provider credentials.
func storeDimensions() int {
	return embedder.SettingsFromEnv().Dimensions
}

// retrievalStack is the store, cache and embedders shared by search, query,
// embed and serve.
type retrievalStack struct {
	store     rag.VectorStore
	storeName string
	redis     *redis.Client
	// embedder serves query text and goes through the Redis cache when one
	// is configured.
	embedder rag.Embedder
	// provider is the uncached embedding backend. The backfill job uses it
	// so chunk vectors never occupy query cache entries.
	provider rag.Embedder
	settings embedder.Settings
}

// Close releases the cache client and the store.
func (s *retrievalStack) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// buildStack validates the embedding configuration, wires the embedders,
// and opens the vector store. A missing API key or store is fatal.
func buildStack(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*retrievalStack, error) {
	stack, err := buildEmbedders(ctx, log, reg)
	if err != nil {
		return nil, err
	}

	vs, name, err := openStore(ctx, log, stack.settings.Dimensions)
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.store, stack.storeName = vs, name
	return stack, nil
}

// buildEmbedders constructs the provider and, in front of it for queries,
// the Redis cache. An unreachable cache only degrades to direct provider
// calls.
func buildEmbedders(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*retrievalStack, error) {
	settings := embedder.SettingsFromEnv()
	if err := embedder.Validate(log, settings); err != nil {
		return nil, err
	}
	base, err := embedder.New(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", settings.Backend),
		slog.String("model", settings.ModelID()),
	)

	stack := &retrievalStack{embedder: base, provider: base, settings: settings}

	client, err := cache.Dial(ctx, os.Getenv("REDIS_URL"))
	if client == nil {
		log.Warn("embedding cache disabled", slog.Any("error", err))
		return stack, nil
	}
	if err != nil {
		log.Warn("embedding cache unreachable, continuing without hits", slog.Any("error", err))
	}
	cached, err := cache.New(client, base, cache.Config{
		ModelID:    settings.ModelID(),
		TTL:        getEnvDuration("CACHE_TTL", cache.DefaultTTL),
		Registerer: reg,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialise embedding cache: %w", err)
	}
	stack.redis = client
	stack.embedder = cached
	return stack, nil
}

// buildSynthesizer constructs the chat model and answer synthesizer. The
// returned flush must run before exit so buffered traces are delivered.
func buildSynthesizer(ctx context.Context, log *slog.Logger, retriever rag.Retriever) (*answer.Synthesizer, func(), error) {
	chat, pcfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(pcfg.Backend)),
		slog.String("model", pcfg.ModelName()),
	)

	flush := func() {}
	acfg := answer.Config{
		Provider:         string(pcfg.Backend),
		Timeout:          getEnvDuration("CHAT_TIMEOUT", answer.DefaultTimeout),
		MaxContextTokens: getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0),
	}
	if handler, f, ok := tracing.Setup(); ok {
		acfg.Handlers = append(acfg.Handlers, handler)
		flush = f
		log.Info("langfuse tracing enabled")
	}

	syn, err := answer.New(retriever, chat, acfg)
	if err != nil {
		flush()
		return nil, nil, err
	}
	return syn, flush, nil
}

// openRunStore opens the backfill run history. PATENTRAG_RUNS_DB overrides
// the default path; "disabled" turns history off. Failures are logged and
// leave history off.
func openRunStore(log *slog.Logger) (store.RunStore, func()) {
	noop := func() {}
	path := os.Getenv("PATENTRAG_RUNS_DB")
	if path == "disabled" {
		log.Info("runs: disabled via PATENTRAG_RUNS_DB=disabled")
		return nil, noop
	}
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("runs: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, noop
		}
	}
	rs, err := store.Open(path)
	if err != nil {
		log.Warn("runs: failed to open store, disabling", slog.Any("error", err))
		return nil, noop
	}
	log.Debug("runs: store opened", slog.String("path", path))
	return rs, func() { _ = rs.Close() }
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
