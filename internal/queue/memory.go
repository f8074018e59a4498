package queue

import (
	"context"
	"sync"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

// Memory is an in-process Queue backed by a map, for tests and processes
// that need no restart survival.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	// byTarget indexes entry IDs per targetKey in insertion order, so
	// GetForTarget returns entries oldest-first without a scan+sort.
	byTarget map[string][]string
	now      func() int64
}

// NewMemory constructs an empty Memory queue. now defaults to the wall
// clock; tests may override it for deterministic timestamps.
func NewMemory(now func() int64) *Memory {
	if now == nil {
		now = defaultNow
	}
	return &Memory{
		entries:  make(map[string]Entry),
		byTarget: make(map[string][]string),
		now:      now,
	}
}

// Add implements Queue.
func (m *Memory) Add(_ context.Context, targetKey string, rumor onetomany.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := EntryID(rumor.ID, targetKey)
	if _, exists := m.entries[id]; exists {
		return id, nil
	}

	ts := m.now()
	m.entries[id] = Entry{
		ID:        id,
		TargetKey: targetKey,
		Rumor:     rumor,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	m.byTarget[targetKey] = append(m.byTarget[targetKey], id)
	return id, nil
}

// GetForTarget implements Queue.
func (m *Memory) GetForTarget(_ context.Context, targetKey string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byTarget[targetKey]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// RemoveForTarget implements Queue.
func (m *Memory) RemoveForTarget(_ context.Context, targetKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byTarget[targetKey] {
		delete(m.entries, id)
	}
	delete(m.byTarget, targetKey)
	return nil
}

// Remove implements Queue.
func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

// RemoveByTargetAndEventID implements Queue.
func (m *Memory) RemoveByTargetAndEventID(_ context.Context, targetKey, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(EntryID(eventID, targetKey))
	return nil
}

func (m *Memory) removeLocked(id string) {
	entry, ok := m.entries[id]
	if !ok {
		return
	}
	delete(m.entries, id)

	ids := m.byTarget[entry.TargetKey]
	for i, existing := range ids {
		if existing == id {
			m.byTarget[entry.TargetKey] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// IncrementRetry implements Queue.
func (m *Memory) IncrementRetry(_ context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.RetryCount++
	entry.UpdatedAt = m.now()
	m.entries[id] = entry
	return entry, nil
}

func defaultNow() int64 { return nowUnix() }
