package transport

import (
	"context"
	"sync"

	"github.com/ndr-chat/groupcrypto/internal/onetomany"
)

// Memory is an in-process Adapter: Publish fans out synchronously to every
// matching subscriber. Intended for tests and single-process demos, not
// for crossing an actual network boundary.
type Memory struct {
	mu   sync.Mutex
	subs map[int]*memorySub
	next int
}

type memorySub struct {
	filter  Filter
	onEvent func(onetomany.Event)
}

// NewMemory constructs an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]*memorySub)}
}

// Subscribe implements Adapter.
func (m *Memory) Subscribe(_ context.Context, filter Filter, onEvent func(onetomany.Event)) (Unsubscribe, error) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = &memorySub{filter: filter, onEvent: onEvent}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}, nil
}

// Publish implements Adapter, delivering to every subscriber whose filter
// matches before returning.
func (m *Memory) Publish(_ context.Context, event onetomany.Event) (onetomany.Event, error) {
	m.mu.Lock()
	matched := make([]*memorySub, 0, len(m.subs))
	for _, sub := range m.subs {
		if matches(sub.filter, event) {
			matched = append(matched, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range matched {
		sub.onEvent(event)
	}
	return event, nil
}

func matches(filter Filter, event onetomany.Event) bool {
	if len(filter.Kinds) > 0 && !containsInt(filter.Kinds, event.Kind) {
		return false
	}
	if len(filter.Authors) > 0 && !containsString(filter.Authors, event.PubKey) {
		return false
	}
	return true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
