package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Run is one pipeline execution as recorded in the ledger.
type Run struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Outcome         string    `json:"outcome"`
	Model           string    `json:"model,omitempty"`
	Sources         int       `json:"sources"`
	FailedSources   int       `json:"failed_sources"`
	Collected       int       `json:"collected"`
	Fresh           int       `json:"fresh"`
	FallbackBatches int       `json:"fallback_batches"`
	TotalPosts      int       `json:"total_posts"`
	Error           string    `json:"error,omitempty"`
}

// Ledger wraps the SQLite run ledger. It is diagnostic only; the state file
// never depends on it.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) skymood.db in dataDir and brings its schema up
// to date. Pass ":memory:" for a throwaway ledger.
func Open(dataDir string) (*Ledger, error) {
	file := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		file = filepath.Join(dataDir, "skymood.db")
	}
	dsn := file + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	// A single connection keeps ":memory:" one database.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := &Ledger{db: db}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating run history: %w", err)
	}
	return l, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun inserts r, assigning an ID when r.ID is empty. It returns the ID.
func (l *Ledger) RecordRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, outcome, model, sources, failed_sources,
			collected, fresh, fallback_batches, total_posts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Outcome, r.Model,
		r.Sources, r.FailedSources, r.Collected, r.Fresh, r.FallbackBatches, r.TotalPosts, r.Error,
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return r.ID, nil
}

const runColumns = `id, started_at, finished_at, outcome, model, sources, failed_sources,
	collected, fresh, fallback_batches, total_posts, error`

// GetRun returns the run with the given ID.
func (l *Ledger) GetRun(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var started, finished string
	if err := s.Scan(&r.ID, &started, &finished, &r.Outcome, &r.Model, &r.Sources, &r.FailedSources,
		&r.Collected, &r.Fresh, &r.FallbackBatches, &r.TotalPosts, &r.Error); err != nil {
		return Run{}, err
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	return r, nil
}

// timeLayout is fixed width so started_at orders correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
