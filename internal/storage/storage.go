// Package storage provides the StorageAdapter abstraction Group and
// GroupManager persist through, plus three concrete implementations: an
// in-memory map for tests, an OS-keychain-backed store for secret chain-key
// material, and a SQLite-backed store for bulk group/queue state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by implementations that distinguish "absent" from
// "empty" at the error level; Adapter.Get instead reports absence via its
// bool return and never returns ErrNotFound. No adapter in this package
// returns it; sqlite.go maps the driver's sql.ErrNoRows to a false return.
var ErrNotFound = errors.New("storage: key not found")

// Adapter is the storage abstraction every persistence concern in this
// module goes through. Values are opaque JSON-like documents: callers pass
// a pointer via out and get back whether the key existed.
type Adapter interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Put(ctx context.Context, key string, value any) error
	Del(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Error wraps any failure from an Adapter method so callers (and
// GroupManager's onError sink) can distinguish storage failures from
// cryptographic or protocol ones via errors.As.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return "storage: " + e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
