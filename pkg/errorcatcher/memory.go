package errorcatcher

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryCatcher keeps caught errors in process. With a positive capacity it
// is a ring dropping the oldest entry; otherwise it grows without bound.
type MemoryCatcher struct {
	capacity int

	mu      sync.Mutex
	entries []CaughtError
	head    int // index of the oldest entry once the ring is full

	total atomic.Int64
}

// NewMemoryCatcher creates an in-memory catcher; capacity <= 0 is unbounded.
func NewMemoryCatcher(capacity int) *MemoryCatcher {
	m := &MemoryCatcher{capacity: capacity}
	if capacity > 0 {
		m.entries = make([]CaughtError, 0, capacity)
	}
	return m
}

func (m *MemoryCatcher) Name() string { return BackendMemory }

func (m *MemoryCatcher) Record(_ context.Context, c CaughtError) error {
	m.mu.Lock()
	if m.capacity > 0 && len(m.entries) == m.capacity {
		m.entries[m.head] = c
		m.head = (m.head + 1) % m.capacity
	} else {
		m.entries = append(m.entries, c)
	}
	m.mu.Unlock()
	m.total.Add(1)
	return nil
}

// List returns the retained errors, oldest first.
func (m *MemoryCatcher) List(context.Context) ([]CaughtError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CaughtError, 0, len(m.entries))
	out = append(out, m.entries[m.head:]...)
	out = append(out, m.entries[:m.head]...)
	return out, nil
}

// Count returns every error recorded so far, including the ones the ring dropped.
func (m *MemoryCatcher) Count(context.Context) (int, error) {
	return int(m.total.Load()), nil
}

// Len returns how many errors are retained.
func (m *MemoryCatcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
