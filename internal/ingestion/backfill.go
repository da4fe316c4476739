package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/store"
)

// DefaultWorkers is the number of chunks embedded concurrently.
const DefaultWorkers = 4

// BackfillConfig tunes a Backfill.
type BackfillConfig struct {
	// Workers bounds concurrent embedding calls. Defaults to DefaultWorkers.
	Workers int

	// RatePerSecond paces provider calls across all workers. Zero disables pacing.
	RatePerSecond float64

	// Recorder, when set, receives a summary of every finished run.
	Recorder store.RunStore

	// Registerer receives the backfill metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// ItemFailure is one chunk that could not be embedded.
type ItemFailure struct {
	ChunkID string
	Err     error
}

// Report summarises one backfill pass. Total always equals
// Embedded + Skipped + len(Failures).
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Total    int
	Embedded int
	// Skipped counts chunks that another writer embedded first.
	Skipped  int
	Failures []ItemFailure
}

// Err joins every item failure, or returns nil when the pass was clean.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.ChunkID, f.Err))
	}
	return fmt.Errorf("ingestion: %d of %d chunks failed: %w", len(r.Failures), r.Total, errors.Join(errs...))
}

// Run converts the report into its persisted form.
func (r *Report) Run() store.Run {
	run := store.Run{
		ID:       r.RunID,
		Started:  r.Started,
		Finished: r.Finished,
		Total:    r.Total,
		Embedded: r.Embedded,
		Skipped:  r.Skipped,
	}
	for _, f := range r.Failures {
		run.Failures = append(run.Failures, store.Failure{ChunkID: f.ChunkID, Error: f.Err.Error()})
	}
	return run
}

type backfillMetrics struct {
	items *prometheus.CounterVec
}

func newBackfillMetrics(reg prometheus.Registerer) *backfillMetrics {
	return &backfillMetrics{
		items: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentrag",
			Subsystem: "backfill",
			Name:      "items_total",
			Help:      "Chunks processed by backfill, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// Backfill embeds every chunk that has no embedding yet. It calls the
// provider directly rather than through the query cache: chunk text is
// rarely repeated.
type Backfill struct {
	embedder rag.Embedder
	store    rag.VectorStore
	cfg      BackfillConfig
	limiter  *rate.Limiter
	metrics  *backfillMetrics
}

// NewBackfill constructs a Backfill job.
func NewBackfill(embedder rag.Embedder, vs rag.VectorStore, cfg BackfillConfig) (*Backfill, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond)))
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Backfill{
		embedder: embedder,
		store:    vs,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  newBackfillMetrics(reg),
	}, nil
}

// Run embeds all pending chunks. A failing chunk is recorded in the report
// and never stops the others. The returned error is non-nil only when the
// pending list itself could not be read; per-item failures are in
// Report.Err. If ctx is cancelled, chunks not yet started are reported as
// failed with the context error.
func (b *Backfill) Run(ctx context.Context, progress func(msg string)) (*Report, error) {
	log := logging.FromContext(ctx)
	if progress == nil {
		progress = func(string) {}
	}

	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	pending, err := b.store.PendingChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: list pending chunks: %w", err)
	}
	report.Total = len(pending)
	progress(fmt.Sprintf("%d chunks pending embedding", len(pending)))

	var mu sync.Mutex
	record := func(outcome string, chunkID string, err error) {
		b.metrics.items.WithLabelValues(outcome).Inc()
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case "embedded":
			report.Embedded++
		case "skipped":
			report.Skipped++
		default:
			report.Failures = append(report.Failures, ItemFailure{ChunkID: chunkID, Err: err})
		}
	}

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	for _, c := range pending {
		if ctx.Err() != nil {
			record("failed", c.ChunkID, ctx.Err())
			continue
		}
		g.Go(func() error {
			outcome, err := b.embedOne(ctx, c)
			if err != nil {
				log.Warn("backfill: chunk failed", slog.String("chunk_id", c.ChunkID), slog.String("error", err.Error()))
			}
			record(outcome, c.ChunkID, err)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now()
	progress(fmt.Sprintf("embedded %d, skipped %d, failed %d", report.Embedded, report.Skipped, len(report.Failures)))
	log.Info("backfill: run finished",
		slog.String("run_id", report.RunID),
		slog.Int("total", report.Total),
		slog.Int("embedded", report.Embedded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", len(report.Failures)),
		slog.Duration("elapsed", report.Finished.Sub(report.Started)),
	)

	if b.cfg.Recorder != nil {
		if err := b.cfg.Recorder.Record(context.WithoutCancel(ctx), report.Run()); err != nil {
			log.Warn("backfill: could not record run", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// embedOne embeds a single chunk and writes it if still pending.
func (b *Backfill) embedOne(ctx context.Context, c rag.Chunk) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "failed", err
	}
	vec, err := b.embedder.Embed(ctx, c.Text)
	if err != nil {
		return "failed", err
	}
	if len(vec) == 0 {
		return "failed", rag.MalformedError("embedder", "empty vector")
	}
	written, err := b.store.SetEmbedding(ctx, c.ChunkID, vec)
	if err != nil {
		return "failed", err
	}
	if !written {
		return "skipped", nil
	}
	return "embedded", nil
}
