package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/patentrag/internal/answer"
	"github.com/54b3r/patentrag/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// RequestTimeout bounds the work done for one /search or /query call.
	// Each external call inside it carries its own, shorter timeout.
	RequestTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready.
	// If empty, /ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /search and
	// /query (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /search and /query.
	// If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server's collectors. Defaults to a fresh
	// registry so repeated construction never panics on duplicates.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to MetricsRegistry when it
	// is also a Gatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the slice of *answer.Synthesizer the query handler needs.
type answerer interface {
	Answer(ctx context.Context, question string, topK int) (*answer.QueryAnswer, error)
}

// Server exposes retrieval and answer synthesis over HTTP.
type Server struct {
	retriever  rag.Retriever
	answerer   answerer
	cfg        *Config
	httpServer *http.Server
	log        *slog.Logger
	pingers    []Pinger
	metrics    *serverMetrics
	// stopRL stops the rate limiter's eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /search.
type searchRequest struct {
	Query string `json:"query"`
	// TopK is optional; nil means rag.DefaultTopK.
	TopK *int `json:"top_k,omitempty"`
}

// queryRequest is the JSON body for POST /query.
type queryRequest struct {
	Question string `json:"question"`
	TopK     *int   `json:"top_k,omitempty"`
}

// statusResponse is the JSON body for GET /.
type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
