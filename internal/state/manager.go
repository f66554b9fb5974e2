// Package state persists the history of dsync runs in a local sqlite
// database.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the history database inside the state directory
const DBFileName = "dsync.db"

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusDryRun  = "dryrun"
)

// Manager handles state persistence and run history
type Manager struct {
	db *sql.DB
}

// RunRecord represents a single dsync invocation
type RunRecord struct {
	ID          int64
	RunID       string
	Source      string
	Destination string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	// Compared is the number of source entries examined
	Compared    int64
	Deleted     int64
	Copied      int64
	Refreshed   int64
	BytesCopied int64
	Error       string
}

// NewManager opens (creating if needed) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		compared INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		copied INTEGER DEFAULT 0,
		refreshed INTEGER DEFAULT 0,
		bytes_copied INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_destination_time ON runs(destination, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveRun records one run
func (m *Manager) SaveRun(record RunRecord) error {
	switch record.Status {
	case StatusSuccess, StatusFailed, StatusDryRun:
	default:
		return fmt.Errorf("invalid status: %s (must be %q, %q or %q)",
			record.Status, StatusSuccess, StatusFailed, StatusDryRun)
	}
	if record.RunID == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	query := `
		INSERT INTO runs (run_id, source, destination, start_time, end_time, status,
			compared, deleted, copied, refreshed, bytes_copied, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := m.db.Exec(query,
		record.RunID,
		record.Source,
		record.Destination,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.Compared,
		record.Deleted,
		record.Copied,
		record.Refreshed,
		record.BytesCopied,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, run_id, source, destination, start_time, end_time, status,
		compared, deleted, copied, refreshed, bytes_copied, error
	FROM runs`

// GetHistory retrieves the newest runs into destination
func (m *Manager) GetHistory(destination string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := m.db.Query(selectColumns+`
		WHERE destination = ?
		ORDER BY start_time DESC
		LIMIT ?`, destination, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return collect(rows)
}

// GetLastSuccess retrieves the last successful sync into destination.
// It returns nil when there is none.
func (m *Manager) GetLastSuccess(destination string) (*RunRecord, error) {
	row := m.db.QueryRow(selectColumns+`
		WHERE destination = ? AND status = ?
		ORDER BY start_time DESC
		LIMIT 1`, destination, StatusSuccess)

	record, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (RunRecord, error) {
	var r RunRecord
	var errText sql.NullString
	err := s.Scan(
		&r.ID,
		&r.RunID,
		&r.Source,
		&r.Destination,
		&r.StartTime,
		&r.EndTime,
		&r.Status,
		&r.Compared,
		&r.Deleted,
		&r.Copied,
		&r.Refreshed,
		&r.BytesCopied,
		&errText,
	)
	r.Error = errText.String
	return r, err
}

func collect(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
