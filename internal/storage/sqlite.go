package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is an Adapter backed by a single key/value table, for processes
// that must survive restart. Grounded on the teacher's connection-and-ping
// pattern; unlike the teacher's relational schema this adapter has exactly
// one table since every caller already namespaces its own keys.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens (creating if absent) a SQLite-backed Adapter at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: create kv_store: %w", err)
	}

	return &SQLite{conn: conn}, nil
}

// Close closes the underlying connection.
func (s *SQLite) Close() error { return s.conn.Close() }

// Get implements Adapter.
func (s *SQLite) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	return true, nil
}

// Put implements Adapter.
func (s *SQLite) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, raw)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Del implements Adapter.
func (s *SQLite) Del(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return &Error{Op: "del", Key: key, Err: err}
	}
	return nil
}

// List implements Adapter.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key FROM kv_store WHERE key LIKE ? ORDER BY key ASC`, prefix+"%")
	if err != nil {
		return nil, &Error{Op: "list", Key: prefix, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &Error{Op: "list", Key: prefix, Err: err}
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
