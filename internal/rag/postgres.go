package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint violation.
const uniqueViolation = "23505"

// PGConfig holds connection parameters for the Postgres/pgvector store.
type PGConfig struct {
	// URL is the Postgres connection string (DATABASE_URL).
	URL string

	// Dimensions fixes the width of the embedding column. Zero leaves the
	// column untyped, which pgvector accepts but cannot index.
	Dimensions int

	// MaxConns caps the pool size. Defaults to pgxpool's own default if zero.
	MaxConns int32

	// Timeout bounds every individual store query. Defaults to 10s.
	Timeout time.Duration
}

// PGStore implements VectorStore on a single "chunks" table with a pgvector
// column. Nearest-neighbour ordering uses the L2 operator (<->), the same
// metric the embeddings are compared with everywhere else.
// Concurrent callers each draw a connection from the pool.
type PGStore struct {
	// pool is the shared connection pool.
	pool *pgxpool.Pool

	// cfg holds the resolved configuration for this store.
	cfg *PGConfig
}

// NewPGStore connects to Postgres, ensures the schema exists, and returns a
// ready-to-use store.
func NewPGStore(ctx context.Context, cfg *PGConfig) (*PGStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: postgres: DATABASE_URL is required", ErrInvalidArgument)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: parse connection string: %w", ErrInvalidArgument, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: create pool: %w", ErrPersistence, err)
	}

	s := &PGStore{pool: pool, cfg: cfg}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the pgvector extension, the chunks table, and its
// indexes if they do not already exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	vectorType := "vector"
	if s.cfg.Dimensions > 0 {
		vectorType = fmt.Sprintf("vector(%d)", s.cfg.Dimensions)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
    chunk_id   TEXT PRIMARY KEY,
    patent_id  TEXT NOT NULL,
    text       TEXT NOT NULL,
    embedding  %s
)`, vectorType),
		`CREATE INDEX IF NOT EXISTS chunks_patent_id_idx ON chunks (patent_id)`,
	}
	if s.cfg.Dimensions > 0 {
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS chunks_embedding_l2_idx ON chunks USING hnsw (embedding vector_l2_ops)`)
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: postgres: migrate: %w", ErrPersistence, err)
		}
	}
	return nil
}

// SaveChunk inserts c without an embedding.
func (s *PGStore) SaveChunk(ctx context.Context, c Chunk) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	const q = `INSERT INTO chunks (chunk_id, patent_id, text) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, c.ChunkID, c.PatentID, c.Text); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: postgres: chunk %q already exists", ErrPersistence, c.ChunkID)
		}
		return fmt.Errorf("%w: postgres: save chunk %q: %w", ErrPersistence, c.ChunkID, err)
	}
	return nil
}

// PendingChunks lists chunks whose embedding is NULL, ordered by chunk_id.
func (s *PGStore) PendingChunks(ctx context.Context) ([]Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	const q = `SELECT chunk_id, patent_id, text FROM chunks WHERE embedding IS NULL ORDER BY chunk_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: pending chunks: %w", ErrPersistence, err)
	}

	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Chunk, error) {
		var c Chunk
		err := row.Scan(&c.ChunkID, &c.PatentID, &c.Text)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: pending chunks scan: %w", ErrPersistence, err)
	}
	return chunks, nil
}

// SetEmbedding writes vec only when the row's embedding is still NULL.
func (s *PGStore) SetEmbedding(ctx context.Context, chunkID string, vec []float32) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	const q = `UPDATE chunks SET embedding = $1::vector WHERE chunk_id = $2 AND embedding IS NULL`
	tag, err := s.pool.Exec(ctx, q, pgvector.NewVector(vec), chunkID)
	if err != nil {
		return false, fmt.Errorf("%w: postgres: set embedding %q: %w", ErrPersistence, chunkID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Nearest orders embedded rows by L2 distance to vec, ties broken by chunk_id.
func (s *PGStore) Nearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: postgres: k must be >= 1, got %d", ErrInvalidArgument, k)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	const q = `
SELECT chunk_id, patent_id, text, embedding <-> $1::vector AS distance
FROM   chunks
WHERE  embedding IS NOT NULL
ORDER  BY distance ASC, chunk_id ASC
LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: nearest: %w", ErrPersistence, err)
	}

	neighbors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
		var n Neighbor
		err := row.Scan(&n.Chunk.ChunkID, &n.Chunk.PatentID, &n.Chunk.Text, &n.Distance)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: nearest scan: %w", ErrPersistence, err)
	}
	return neighbors, nil
}

// Ping checks that a pooled connection can reach the server.
func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: postgres: ping: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes every connection in the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
