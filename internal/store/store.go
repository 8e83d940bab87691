// Package store provides the call-audit log: one record per dispatched tool
// call with its outcome and latency.
//
// Two implementations: an in-memory ring for development and a SQLite file
// for deployments that need the audit trail to survive restarts.
package store

import (
	"context"
	"sync"
	"time"
)

// Entry is one audited tool call. Kind is empty for successful calls and
// carries the envelope error kind otherwise.
type Entry struct {
	RequestID string        `json:"request_id"`
	Tool      string        `json:"tool"`
	Kind      string        `json:"kind,omitempty"`
	Latency   time.Duration `json:"latency"`
	At        time.Time     `json:"at"`
}

// Store records and reads back audit entries. Safe for concurrent use.
type Store interface {
	// Record appends one entry.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)

	// Close releases resources.
	Close() error
}

// DefaultMemoryCapacity bounds the in-memory ring.
const DefaultMemoryCapacity = 1024

// MemoryStore keeps the most recent entries in a bounded ring.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	cap     int
}

// NewMemoryStore creates a ring of the given capacity (DefaultMemoryCapacity
// when n <= 0).
func NewMemoryStore(n int) *MemoryStore {
	if n <= 0 {
		n = DefaultMemoryCapacity
	}
	return &MemoryStore{entries: make([]Entry, n), cap: n}
}

// Record appends one entry, overwriting the oldest when full.
func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.next] = e
	s.next = (s.next + 1) % s.cap
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *MemoryStore) Recent(_ context.Context, n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = s.cap
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.next - 1 - i + s.cap) % s.cap
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
