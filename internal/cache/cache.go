// Package cache implements the content-addressed embedding cache that sits
// in front of an embedding provider on the query path.
//
// Keys are "embed:" + hex(SHA-256(model_id || 0x00 || text)); values are the
// JSON-encoded vector stored with a fixed TTL. The cache is best-effort:
// read and write failures are logged and degrade to a provider call, never
// to a failed request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
)

const (
	// KeyPrefix namespaces every embedding entry in the key-value store.
	KeyPrefix = "embed:"

	// DefaultTTL is how long a cached vector stays servable.
	DefaultTTL = 24 * time.Hour

	// DefaultURL is used when no cache connection string is configured.
	DefaultURL = "redis://127.0.0.1:6379/0"

	// defaultOpTimeout bounds each individual cache read or write.
	defaultOpTimeout = 2 * time.Second
)

// Config controls an EmbeddingCache.
type Config struct {
	// ModelID is mixed into every key so vectors from different embedding
	// models never collide. Required.
	ModelID string

	// TTL is the entry lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	// OpTimeout bounds each Redis round trip. Defaults to 2s.
	OpTimeout time.Duration

	// Registerer receives the cache metrics. Nil registers into a private
	// registry that is never exported.
	Registerer prometheus.Registerer
}

// cacheMetrics counts lookups by outcome.
type cacheMetrics struct {
	// lookups is partitioned by result: "hit", "miss", or "error".
	lookups *prometheus.CounterVec

	// writeFailures counts best-effort writes that did not land.
	writeFailures prometheus.Counter
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	factory := promauto.With(reg)
	return &cacheMetrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentrag",
			Subsystem: "embed_cache",
			Name:      "lookups_total",
			Help:      "Embedding cache lookups, partitioned by result.",
		}, []string{"result"}),
		writeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "patentrag",
			Subsystem: "embed_cache",
			Name:      "write_failures_total",
			Help:      "Cache writes that failed after a successful provider call.",
		}),
	}
}

// EmbeddingCache implements rag.Embedder by consulting Redis before
// delegating to a provider. The Redis client pools its own connections, so
// concurrent callers never share a connection across a provider call.
type EmbeddingCache struct {
	client    redis.Cmdable
	provider  rag.Embedder
	modelID   string
	ttl       time.Duration
	opTimeout time.Duration
	metrics   *cacheMetrics
}

var _ rag.Embedder = (*EmbeddingCache)(nil)

// New wraps provider with a Redis-backed cache.
func New(client redis.Cmdable, provider rag.Embedder, cfg Config) (*EmbeddingCache, error) {
	if client == nil {
		return nil, fmt.Errorf("cache: redis client must not be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("cache: provider must not be nil")
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("cache: %w: model ID is required", rag.ErrInvalidArgument)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &EmbeddingCache{
		client:    client,
		provider:  provider,
		modelID:   cfg.ModelID,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		metrics:   newCacheMetrics(reg),
	}, nil
}

// Key returns the cache key for text embedded with modelID.
func Key(modelID, text string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Embed implements rag.Embedder. It is the cache's get-or-compute operation.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	log := logging.FromContext(ctx)
	key := Key(c.modelID, text)

	vec, err := c.lookup(ctx, key)
	switch {
	case err == nil:
		c.metrics.lookups.WithLabelValues("hit").Inc()
		log.Debug("embedding cache hit", "key", key)
		return vec, nil
	case errors.Is(err, redis.Nil):
		c.metrics.lookups.WithLabelValues("miss").Inc()
	default:
		c.metrics.lookups.WithLabelValues("error").Inc()
		log.Warn("embedding cache read failed, falling back to provider", "key", key, "error", err)
	}

	vec, err = c.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// The write is detached from the caller's cancellation so an abandoned
	// request still populates the cache.
	if err := c.store(context.WithoutCancel(ctx), key, vec); err != nil {
		c.metrics.writeFailures.Inc()
		log.Warn("embedding cache write failed", "key", key, "error", err)
	}
	return vec, nil
}

// lookup fetches and decodes a cached vector. redis.Nil signals a miss.
func (c *EmbeddingCache) lookup(ctx context.Context, key string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get %s: %w", rag.ErrCache, key, err)
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", rag.ErrCache, key, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector under %s", rag.ErrCache, key)
	}
	return vec, nil
}

// store writes vec under key with the configured TTL in a single SET.
func (c *EmbeddingCache) store(ctx context.Context, key string, vec []float32) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", rag.ErrCache, err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", rag.ErrCache, key, err)
	}
	return nil
}

// Dial parses a redis:// URL and verifies the server responds. An empty url
// falls back to DefaultURL. When only the ping fails the client is still
// returned alongside an ErrCache error, since the cache may come up later.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		url = DefaultURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, fmt.Errorf("%w: ping %s: %w", rag.ErrCache, opts.Addr, err)
	}
	return client, nil
}
