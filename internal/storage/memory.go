package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Adapter backed by a map of JSON-encoded
// documents. Zero value is ready to use. Intended for tests and the demo's
// default wiring, not for anything that must survive a restart.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory constructs an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Get implements Adapter.
func (m *Memory) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	return true, nil
}

// Put implements Adapter.
func (m *Memory) Put(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	m.mu.Lock()
	if m.docs == nil {
		m.docs = make(map[string][]byte)
	}
	m.docs[key] = raw
	m.mu.Unlock()
	return nil
}

// Del implements Adapter.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.docs, key)
	m.mu.Unlock()
	return nil
}

// List implements Adapter, returning matching keys in sorted order.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
