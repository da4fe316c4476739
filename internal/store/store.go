// Package store keeps a local SQLite history of backfill runs so operators
// can see what each pass embedded and which chunks failed, across process
// restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Failure is one chunk a run could not embed.
type Failure struct {
	ChunkID string `json:"chunk_id"`
	Error   string `json:"error"`
}

// Run is the persisted summary of a single backfill pass.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Total    int
	Embedded int
	Skipped  int
	Failures []Failure
}

// RunStore persists and retrieves backfill run summaries.
// Implementations must be safe for concurrent use.
type RunStore interface {
	// Record persists a completed run.
	Record(ctx context.Context, r Run) error
	// Recent returns the most recent n runs, newest first.
	Recent(ctx context.Context, n int) ([]Run, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteRunStore is a RunStore backed by a local SQLite database.
type SQLiteRunStore struct {
	db *sql.DB
}

var _ RunStore = (*SQLiteRunStore)(nil)

// DefaultDBPath resolves ~/.patentrag/runs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".patentrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "runs.db"), nil
}

// Open opens (or creates) a SQLiteRunStore at path and migrates the schema.
// Use ":memory:" in tests.
func Open(path string) (*SQLiteRunStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteRunStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS backfill_runs (
    id          TEXT    PRIMARY KEY,
    started_at  INTEGER NOT NULL,  -- Unix milliseconds
    finished_at INTEGER NOT NULL,
    total       INTEGER NOT NULL,
    embedded    INTEGER NOT NULL,
    skipped     INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    failures    TEXT    NOT NULL   -- JSON array of {chunk_id, error}
);
CREATE INDEX IF NOT EXISTS idx_backfill_runs_started ON backfill_runs (started_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record persists r. Recording the same run ID twice fails.
func (s *SQLiteRunStore) Record(ctx context.Context, r Run) error {
	failures := r.Failures
	if failures == nil {
		failures = []Failure{}
	}
	raw, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("store: encode failures: %w", err)
	}

	const q = `INSERT INTO backfill_runs
    (id, started_at, finished_at, total, embedded, skipped, failed, failures)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q, r.ID, r.Started.UnixMilli(), r.Finished.UnixMilli(),
		r.Total, r.Embedded, r.Skipped, len(r.Failures), string(raw))
	if err != nil {
		return fmt.Errorf("store: record run %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to n runs ordered newest first.
func (s *SQLiteRunStore) Recent(ctx context.Context, n int) ([]Run, error) {
	const q = `
SELECT id, started_at, finished_at, total, embedded, skipped, failures
FROM   backfill_runs
ORDER  BY started_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			failures          string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Total, &r.Embedded, &r.Skipped, &failures); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		r.Started = time.UnixMilli(started)
		r.Finished = time.UnixMilli(finished)
		if err := json.Unmarshal([]byte(failures), &r.Failures); err != nil {
			return nil, fmt.Errorf("store: decode failures for %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *SQLiteRunStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
