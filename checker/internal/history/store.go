package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoRuns is returned by Latest when a dataset has never been checked.
var ErrNoRuns = errors.New("history: no runs recorded")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	detector        INTEGER NOT NULL,
	exposure        INTEGER NOT NULL,
	mean            REAL,
	median          REAL,
	stdev           REAL,
	pixels          INTEGER,
	masked_fraction REAL,
	deviation       REAL,
	passed          INTEGER NOT NULL,
	reason          TEXT,
	steps_json      TEXT,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_dataset ON runs (detector, exposure, created_at);
`

// timeFormat is RFC 3339 with a fixed-width fraction so created_at sorts
// lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one recorded check.
type Run struct {
	ID             string
	Detector       int
	Exposure       int64
	Mean           float64
	Median         float64
	Stdev          float64
	Pixels         int
	MaskedFraction float64
	Deviation      float64
	Passed         bool
	// Reason is the failure message; empty for passing runs.
	Reason string
	// Steps lists the ISR steps that were enabled.
	Steps     []string
	CreatedAt time.Time
}

// Store records runs in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts r, assigning an ID and timestamp when they are empty.
// The stored run is returned.
func (s *Store) Record(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return Run{}, fmt.Errorf("history: marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, detector, exposure, mean, median, stdev, pixels,
		                   masked_fraction, deviation, passed, reason, steps_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Detector, r.Exposure, r.Mean, r.Median, r.Stdev, r.Pixels,
		r.MaskedFraction, r.Deviation, boolToInt(r.Passed), nullIfEmpty(r.Reason),
		string(steps), r.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return Run{}, fmt.Errorf("history: insert run: %w", err)
	}
	return r, nil
}

// Latest returns the most recent run for a dataset.
func (s *Store) Latest(ctx context.Context, detector int, exposure int64) (Run, error) {
	runs, err := s.List(ctx, detector, exposure, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("%w: detector=%d exposure=%d", ErrNoRuns, detector, exposure)
	}
	return runs[0], nil
}

// List returns up to limit runs for a dataset, newest first.
// A limit <= 0 returns every run.
func (s *Store) List(ctx context.Context, detector int, exposure int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, detector, exposure, mean, median, stdev, pixels,
		        masked_fraction, deviation, passed, reason, steps_json, created_at
		 FROM runs WHERE detector = ? AND exposure = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		detector, exposure, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return out, nil
}

// PassRate returns the fraction of recorded runs for a dataset that passed,
// and how many runs there were.
func (s *Store) PassRate(ctx context.Context, detector int, exposure int64) (float64, int, error) {
	var total, passed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(passed) FROM runs WHERE detector = ? AND exposure = ?`,
		detector, exposure,
	).Scan(&total, &passed)
	if err != nil {
		return 0, 0, fmt.Errorf("history: pass rate: %w", err)
	}
	if total.Int64 == 0 {
		return 0, 0, nil
	}
	return float64(passed.Int64) / float64(total.Int64), int(total.Int64), nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var r Run
	var passed int
	var reason, steps sql.NullString
	var created string
	err := rows.Scan(&r.ID, &r.Detector, &r.Exposure, &r.Mean, &r.Median, &r.Stdev, &r.Pixels,
		&r.MaskedFraction, &r.Deviation, &passed, &reason, &steps, &created)
	if err != nil {
		return Run{}, fmt.Errorf("history: scan run: %w", err)
	}
	r.Passed = passed != 0
	if reason.Valid {
		r.Reason = reason.String
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &r.Steps); err != nil {
			return Run{}, fmt.Errorf("history: unmarshal steps: %w", err)
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
