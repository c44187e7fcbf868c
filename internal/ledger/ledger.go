// Package ledger persists per-run and per-file reconciliation
// outcomes to a SQLite database so past runs can be inspected.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/update-tools/restitch/internal/reconcile"
)

// Run-level outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeAborted   = "aborted"
)

// Ledger is a handle on the run history database.
type Ledger struct {
	db *sql.DB
}

// Run is one recorded reconciliation run.
type Run struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Title       string
	BuildString string
	Outcome     string
	Placed      int
	Unmatched   int
	Failed      int
}

// Open creates or opens the ledger database at path and ensures the
// schema exists.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		title TEXT NOT NULL,
		build_string TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT 'running',
		placed INTEGER NOT NULL DEFAULT 0,
		unmatched INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_files (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		loose_path TEXT NOT NULL,
		content_hash TEXT,
		destination TEXT,
		status TEXT NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_files_run ON run_files(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// BeginRun records the start of a reconciliation run and returns its id.
func (l *Ledger) BeginRun(title, buildString string) (int64, error) {
	res, err := l.db.Exec(
		`INSERT INTO runs (started_at, title, build_string, outcome) VALUES (?, ?, ?, 'running')`,
		time.Now().Unix(), title, buildString)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// RecordFiles stores the per-file outcomes of a run in one transaction.
func (l *Ledger) RecordFiles(runID int64, outcomes []reconcile.Outcome) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("record files: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO run_files (run_id, loose_path, content_hash, destination, status, error)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record files: %w", err)
	}
	defer stmt.Close()

	for _, outcome := range outcomes {
		var errText string
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		if _, err := stmt.Exec(runID, outcome.LoosePath, outcome.Hash,
			outcome.Destination, outcome.Status, errText); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record file %s: %w", outcome.LoosePath, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record files: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with its outcome and counters.
func (l *Ledger) FinishRun(runID int64, outcome string, placed, unmatched, failed int) error {
	_, err := l.db.Exec(
		`UPDATE runs SET finished_at = ?, outcome = ?, placed = ?, unmatched = ?, failed = ? WHERE id = ?`,
		time.Now().Unix(), outcome, placed, unmatched, failed, runID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(
		`SELECT id, started_at, COALESCE(finished_at, 0), title, build_string, outcome, placed, unmatched, failed
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Title, &r.BuildString,
			&r.Outcome, &r.Placed, &r.Unmatched, &r.Failed); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Files returns the per-file outcomes recorded for a run.
func (l *Ledger) Files(runID int64) ([]reconcile.Outcome, error) {
	rows, err := l.db.Query(
		`SELECT loose_path, content_hash, destination, status, error
		 FROM run_files WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("run %d files: %w", runID, err)
	}
	defer rows.Close()

	var outcomes []reconcile.Outcome
	for rows.Next() {
		var o reconcile.Outcome
		var errText string
		if err := rows.Scan(&o.LoosePath, &o.Hash, &o.Destination, &o.Status, &errText); err != nil {
			return nil, fmt.Errorf("run %d files: %w", runID, err)
		}
		if errText != "" {
			o.Err = fmt.Errorf("%s", errText)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
