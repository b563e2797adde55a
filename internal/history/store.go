// Package history persists an audit trail of transfer attempts and run
// summaries in SQLite. It is inspection surface only: the JSON ledger owns
// resume state, and history write failures never affect the run.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halbridge/drivemirror/internal/port"
)

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Ensure Store implements port.HistoryRecorder
var _ port.HistoryRecorder = (*Store)(nil)

// Open opens (and migrates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id TEXT NOT NULL,
			name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			bytes INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_node_id ON attempts(node_id)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			total_files INTEGER NOT NULL,
			done INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// RecordAttempt inserts one terminal per-node outcome.
func (s *Store) RecordAttempt(a *port.Attempt) error {
	query := `
		INSERT INTO attempts (node_id, name, outcome, bytes, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var errText sql.NullString
	if a.Error != "" {
		errText = sql.NullString{String: a.Error, Valid: true}
	}
	_, err := s.db.Exec(query,
		a.NodeID, a.Name, a.Outcome, a.Bytes, a.Duration.Milliseconds(), errText)
	return err
}

// RecordRun inserts one run summary.
func (s *Store) RecordRun(r *port.RunSummary) error {
	query := `
		INSERT INTO runs (total_files, done, skipped, failed, elapsed_ms, dry_run)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		r.TotalFiles, r.Done, r.Skipped, r.Failed, r.Elapsed.Milliseconds(), r.DryRun)
	return err
}

// AttemptRecord is one row of the attempts table.
type AttemptRecord struct {
	NodeID    string
	Name      string
	Outcome   string
	Bytes     int64
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}

// RecentAttempts returns the newest attempts, most recent first.
func (s *Store) RecentAttempts(limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT node_id, name, outcome, bytes, duration_ms, error, created_at
		FROM attempts
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var durationMs int64
		var errText sql.NullString
		if err := rows.Scan(&rec.NodeID, &rec.Name, &rec.Outcome, &rec.Bytes,
			&durationMs, &errText, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if errText.Valid {
			rec.Error = errText.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
