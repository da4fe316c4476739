package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/server"
)

// NewServeCmd constructs the `patentrag serve` command, which exposes search
// and question answering over HTTP.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the patentrag HTTP server",
		Long: `Start the HTTP API.

Endpoints:
  GET  /          liveness {"status":"ok","service":"patentrag"}
  POST /search    {"query": "...", "top_k": 5}    ranked chunks
  POST /query     {"question": "...", "top_k": 5} {"answer": "..."}
  GET  /ready     store and cache reachability
  GET  /metrics   Prometheus metrics

Set PATENTRAG_API_KEY to require "Authorization: Bearer <key>" on /search
and /query.

Examples:
  patentrag serve
  patentrag serve --port 9090
  VECTOR_BACKEND=qdrant patentrag serve --host 0.0.0.0`,
		Args: usageArgs(0, 0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("PATENTRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("PATENTRAG_PORT", port)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			stack, err := buildStack(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer stack.Close()

			retriever, err := rag.NewRetriever(stack.embedder, stack.store)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			syn, flush, err := buildSynthesizer(ctx, log, retriever)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer flush()

			pingers := []server.Pinger{server.NewStorePinger(stack.storeName, stack.store)}
			if stack.redis != nil {
				pingers = append(pingers, server.NewRedisPinger(stack.redis))
			}

			srv, err := server.New(retriever, syn, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("PATENTRAG_API_KEY"),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("addr", srv.Addr()),
				slog.String("store", stack.storeName),
				slog.String("embedding_model", stack.settings.ModelID()),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env PATENTRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env PATENTRAG_PORT)")

	return cmd
}
