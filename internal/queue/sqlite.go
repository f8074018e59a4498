package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

// SQLite is a Queue backed by a single table, for processes that must
// survive restart. Grounded on the teacher's connect-then-ping pattern
// (internal/database/db.go), trading its migrations table for one
// CREATE TABLE IF NOT EXISTS — this outbox has had exactly one schema since
// spec.md §4.6, so there is nothing to migrate between.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens (creating if absent) a SQLite-backed Queue at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("queue: open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("queue: ping sqlite: %w", err)
	}

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS message_queue (
			id TEXT PRIMARY KEY,
			target_key TEXT NOT NULL,
			rumor BLOB NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: create message_queue: %w", err)
	}
	if _, err := conn.Exec(`CREATE INDEX IF NOT EXISTS idx_message_queue_target ON message_queue(target_key, created_at)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: create target index: %w", err)
	}

	return &SQLite{conn: conn}, nil
}

// Close closes the underlying connection.
func (s *SQLite) Close() error { return s.conn.Close() }

// Add implements Queue.
func (s *SQLite) Add(ctx context.Context, targetKey string, rumor onetomany.Event) (string, error) {
	id := EntryID(rumor.ID, targetKey)

	raw, err := json.Marshal(rumor)
	if err != nil {
		return "", fmt.Errorf("queue: marshal rumor: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO message_queue (id, target_key, rumor, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, unixepoch(), unixepoch())
		ON CONFLICT(id) DO NOTHING
	`, id, targetKey, raw)
	if err != nil {
		return "", fmt.Errorf("queue: add: %w", err)
	}
	return id, nil
}

// GetForTarget implements Queue.
func (s *SQLite) GetForTarget(ctx context.Context, targetKey string) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, target_key, rumor, retry_count, created_at, updated_at
		FROM message_queue WHERE target_key = ? ORDER BY created_at ASC, id ASC
	`, targetKey)
	if err != nil {
		return nil, fmt.Errorf("queue: get for target: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.TargetKey, &raw, &e.RetryCount, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("queue: scan entry: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Rumor); err != nil {
			return nil, fmt.Errorf("queue: unmarshal rumor: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveForTarget implements Queue.
func (s *SQLite) RemoveForTarget(ctx context.Context, targetKey string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM message_queue WHERE target_key = ?`, targetKey); err != nil {
		return fmt.Errorf("queue: remove for target: %w", err)
	}
	return nil
}

// Remove implements Queue.
func (s *SQLite) Remove(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM message_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: remove: %w", err)
	}
	return nil
}

// RemoveByTargetAndEventID implements Queue.
func (s *SQLite) RemoveByTargetAndEventID(ctx context.Context, targetKey, eventID string) error {
	return s.Remove(ctx, EntryID(eventID, targetKey))
}

// IncrementRetry implements Queue.
func (s *SQLite) IncrementRetry(ctx context.Context, id string) (Entry, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE message_queue SET retry_count = retry_count + 1, updated_at = unixepoch() WHERE id = ?
	`, id)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: increment retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("queue: increment retry rows affected: %w", err)
	}
	if affected == 0 {
		return Entry{}, ErrNotFound
	}

	var e Entry
	var raw []byte
	err = s.conn.QueryRowContext(ctx, `
		SELECT id, target_key, rumor, retry_count, created_at, updated_at FROM message_queue WHERE id = ?
	`, id).Scan(&e.ID, &e.TargetKey, &raw, &e.RetryCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: reload after increment: %w", err)
	}
	if err := json.Unmarshal(raw, &e.Rumor); err != nil {
		return Entry{}, fmt.Errorf("queue: unmarshal rumor: %w", err)
	}
	return e, nil
}
