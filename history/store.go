// Package history persists run metadata and per-epoch metrics to SQLite so
// completed runs can be compared after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"medtrain/training"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS epoch_metrics (
	run_id TEXT NOT NULL REFERENCES runs(id),
	epoch  INTEGER NOT NULL,
	phase  TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  REAL NOT NULL,
	UNIQUE (run_id, epoch, phase, name)
);

CREATE INDEX IF NOT EXISTS idx_epoch_metrics_run ON epoch_metrics(run_id, epoch);
`

// Store records training runs in a SQLite database. It implements
// training.MetricSink.
type Store struct {
	db      *sql.DB
	runName string
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path, runName string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db, runName: runName}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnEpoch records one epoch's train and validation metrics.
func (s *Store) OnEpoch(ctx context.Context, event training.EpochEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		event.RunID, s.runName, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if err := s.insertMetrics(ctx, tx, event.RunID, event.Epoch, "train", event.Train); err != nil {
		return err
	}
	if err := s.insertMetrics(ctx, tx, event.RunID, event.Epoch, "val", event.Val); err != nil {
		return err
	}
	if err := s.insertMetrics(ctx, tx, event.RunID, event.Epoch, "val",
		training.EpochMetrics{"learning_rate": event.LearningRate}); err != nil {
		return err
	}
	return tx.Commit()
}

// OnTest records the final held-out metrics under epoch -1.
func (s *Store) OnTest(ctx context.Context, event training.TestEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertMetrics(ctx, tx, event.RunID, -1, "test", event.Metrics); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) insertMetrics(ctx context.Context, tx *sql.Tx, runID string, epoch int, phase string, metrics training.EpochMetrics) error {
	for name, value := range metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO epoch_metrics (run_id, epoch, phase, name, value) VALUES (?, ?, ?, ?, ?)`,
			runID, epoch, phase, name, value); err != nil {
			return fmt.Errorf("failed to record %s metric %s: %w", phase, name, err)
		}
	}
	return nil
}

// MetricHistory returns one named metric across epochs for a run, ordered
// by epoch.
func (s *Store) MetricHistory(ctx context.Context, runID, phase, name string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM epoch_metrics WHERE run_id = ? AND phase = ? AND name = ? AND epoch >= 0 ORDER BY epoch`,
		runID, phase, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric history: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan metric value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Runs lists recorded run IDs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
