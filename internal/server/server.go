// Package server implements the HTTP surface of patentrag: semantic search
// over stored patent chunks and cited answer synthesis, plus liveness,
// readiness and Prometheus endpoints.
// The server is started by the `patentrag serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
)

// serviceName is reported by GET /.
const serviceName = "patentrag"

// New constructs a Server that searches with retriever and answers with ans.
func New(retriever rag.Retriever, ans answerer, cfg *Config) (*Server, error) {
	if retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if ans == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.RequestTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		if cfg.MetricsGatherer == nil {
			cfg.MetricsGatherer = reg
		}
	}
	if cfg.MetricsGatherer == nil {
		g, ok := cfg.MetricsRegistry.(prometheus.Gatherer)
		if !ok {
			return nil, fmt.Errorf("server: MetricsGatherer is required when MetricsRegistry is not a Gatherer")
		}
		cfg.MetricsGatherer = g
	}

	s := &Server{
		retriever: retriever,
		answerer:  ans,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stop

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.instrument("status", http.HandlerFunc(s.handleStatus)))
	mux.Handle("POST /search", s.instrument("search", protect(s.handleSearch)))
	mux.Handle("POST /query", s.instrument("query", protect(s.handleQuery)))
	mux.Handle("GET /ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: PATENTRAG_API_KEY not set, /search and /query are unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info("server shutting down")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
