// Package auditlog records every change of the attendance switch in SQLite.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Sources of a switch change.
const (
	SourceWebSocket = "websocket"
	SourceAPI       = "api"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// schemaVersion is incremented when the table layout changes.
const schemaVersion = 1

// Entry is one recorded switch change.
type Entry struct {
	ID        int64     `json:"id"`
	Enabled   bool      `json:"enabled"`
	Source    string    `json:"source"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the SQLite-backed audit log.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	// modernc sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("audit log opened")
	return &Store{db: db, path: path}, nil
}

// createSchema creates the database schema, handling version migrations.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`)
	if err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'")
	if err := row.Scan(&currentVersion); err != nil {
		currentVersion = 0
	}

	if currentVersion > 0 && currentVersion < schemaVersion {
		log.Info().
			Int("old_version", currentVersion).
			Int("new_version", schemaVersion).
			Msg("audit schema changed, recreating attendance_log")
		_, _ = db.Exec("DROP TABLE IF EXISTS attendance_log")
	}

	schema := `
		CREATE TABLE IF NOT EXISTS attendance_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			enabled INTEGER NOT NULL,
			source TEXT NOT NULL,
			actor TEXT,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attendance_log_timestamp ON attendance_log(timestamp DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create attendance_log table: %w", err)
	}

	_, err = db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)",
		schemaVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to store schema version: %w", err)
	}
	return nil
}

// Record appends e. A zero timestamp is replaced by the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO attendance_log (enabled, source, actor, timestamp) VALUES (?, ?, ?, ?)",
		e.Enabled, e.Source, e.Actor, e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attendance change: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, enabled, source, actor, timestamp FROM attendance_log ORDER BY timestamp DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			actor sql.NullString
			ts    int64
		)
		if err := rows.Scan(&e.ID, &e.Enabled, &e.Source, &actor, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan attendance log: %w", err)
		}
		e.Actor = actor.String
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
