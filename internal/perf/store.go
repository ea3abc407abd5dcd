package perf

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS perf_runs (
	run_id      TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	method      TEXT    NOT NULL,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	projections INTEGER NOT NULL,
	repetition  INTEGER NOT NULL,
	elapsed_ns  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS perf_runs_run_id ON perf_runs (run_id);
`

// Store keeps the history of performance runs in a SQLite database.
type Store struct {
	*sql.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("perf: create schema in %s: %w", path, err)
	}
	return &Store{db}, nil
}

// Record stores one measurement.
func (s *Store) Record(ctx context.Context, r Result) error {
	query := `
		INSERT INTO perf_runs (run_id, started_at, method, width, height, projections, repetition, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.ExecContext(ctx, query, r.RunID, r.StartedAt.UnixNano(), r.Method,
		r.Width, r.Height, r.Projections, r.Repetition, r.Elapsed.Nanoseconds())
	if err != nil {
		return fmt.Errorf("perf: record run %s: %w", r.RunID, err)
	}
	return nil
}

// Runs returns the measurements of a run in the order they were taken.
func (s *Store) Runs(ctx context.Context, runID string) ([]Result, error) {
	query := `
		SELECT run_id, started_at, method, width, height, projections, repetition, elapsed_ns
		FROM perf_runs
		WHERE run_id = ?
		ORDER BY rowid
	`
	rows, err := s.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("perf: query run %s: %w", runID, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var started, elapsed int64
		if err := rows.Scan(&r.RunID, &started, &r.Method, &r.Width, &r.Height, &r.Projections, &r.Repetition, &elapsed); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		r.Elapsed = time.Duration(elapsed)
		results = append(results, r)
	}
	return results, rows.Err()
}
