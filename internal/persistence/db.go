// Package persistence provides SQLite-based storage of solver runs.
package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"charge-flip/pkg/geometry"
)

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Run is one solver trial.
type Run struct {
	ID                  string
	Job                 string
	Seed                int64
	Strategy            string
	Success             bool
	MaxAttemptsExceeded bool
	Attempts            int
	Iterations          int
	R1                  float64
	Delta               float64
	Version             string
	Created             time.Time
}

// Peak is a stored origin search peak, rank 0 being the best.
type Peak struct {
	Rank   int
	Site   geometry.Vec3
	Height float64
}

type runRow struct {
	ID                  string  `db:"id"`
	Job                 string  `db:"job"`
	Seed                int64   `db:"seed"`
	Strategy            string  `db:"strategy"`
	Success             int     `db:"success"`
	MaxAttemptsExceeded int     `db:"max_attempts_exceeded"`
	Attempts            int     `db:"attempts"`
	Iterations          int     `db:"iterations"`
	R1                  float64 `db:"r1"`
	Delta               float64 `db:"delta"`
	Version             string  `db:"version"`
	CreatedAt           int64   `db:"created_at"`
}

type peakRow struct {
	Rank   int     `db:"rank"`
	X      float64 `db:"x"`
	Y      float64 `db:"y"`
	Z      float64 `db:"z"`
	Height float64 `db:"height"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		seed INTEGER NOT NULL,
		strategy TEXT NOT NULL,
		success INTEGER NOT NULL,
		max_attempts_exceeded INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		r1 REAL NOT NULL,
		delta REAL NOT NULL,
		version TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_peaks (
		run_id TEXT NOT NULL REFERENCES runs(id),
		rank INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		z REAL NOT NULL,
		height REAL NOT NULL,
		PRIMARY KEY (run_id, rank)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveRun stores a run and its origin peaks in one transaction.
func (db *DB) SaveRun(r Run, peaks []Peak) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	_, err = tx.Exec(`INSERT INTO runs
		(id, job, seed, strategy, success, max_attempts_exceeded, attempts,
		 iterations, r1, delta, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Job, r.Seed, r.Strategy, boolInt(r.Success), boolInt(r.MaxAttemptsExceeded),
		r.Attempts, r.Iterations, r.R1, r.Delta, r.Version, r.Created.UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(peaks) > 0 {
		stmt, err := tx.Preparex(`INSERT INTO run_peaks
			(run_id, rank, x, y, z, height) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range peaks {
			if _, err := stmt.Exec(r.ID, p.Rank, p.Site.X, p.Site.Y, p.Site.Z, p.Height); err != nil {
				return fmt.Errorf("insert peak %d: %w", p.Rank, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("run saved", "id", r.ID, "job", r.Job, "peaks", len(peaks))
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	var rows []runRow
	err := db.conn.Select(&rows,
		`SELECT id, job, seed, strategy, success, max_attempts_exceeded, attempts,
		        iterations, r1, delta, version, created_at
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	runs := make([]Run, len(rows))
	for i, row := range rows {
		runs[i] = Run{
			ID:                  row.ID,
			Job:                 row.Job,
			Seed:                row.Seed,
			Strategy:            row.Strategy,
			Success:             row.Success != 0,
			MaxAttemptsExceeded: row.MaxAttemptsExceeded != 0,
			Attempts:            row.Attempts,
			Iterations:          row.Iterations,
			R1:                  row.R1,
			Delta:               row.Delta,
			Version:             row.Version,
			Created:             time.Unix(0, row.CreatedAt),
		}
	}
	return runs, nil
}

// RunPeaks returns the origin peaks stored for a run, best first.
func (db *DB) RunPeaks(runID string) ([]Peak, error) {
	var rows []peakRow
	err := db.conn.Select(&rows,
		"SELECT rank, x, y, z, height FROM run_peaks WHERE run_id = ? ORDER BY rank",
		runID,
	)
	if err != nil {
		return nil, err
	}
	peaks := make([]Peak, len(rows))
	for i, row := range rows {
		peaks[i] = Peak{Rank: row.Rank, Site: geometry.Vec3{X: row.X, Y: row.Y, Z: row.Z}, Height: row.Height}
	}
	return peaks, nil
}
