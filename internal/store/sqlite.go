package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	tool       TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL,
	at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_audit_at ON call_audit(at);
`

// SQLiteStore persists audit entries to a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary initializes) the audit database at
// path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %q: %w", path, err)
	}
	// SQLite handles one writer at a time; serialize on a single conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record appends one entry.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_audit (request_id, tool, kind, latency_ms, at) VALUES (?, ?, ?, ?, ?)`,
		e.RequestID, e.Tool, e.Kind, e.Latency.Milliseconds(), e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, tool, kind, latency_ms, at FROM call_audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var latencyMS int64
		var at string
		if err := rows.Scan(&e.RequestID, &e.Tool, &e.Kind, &latencyMS, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
