package audit

import (
	"context"
	"sync"
)

// Sink receives audit entries. Writes must not mutate the entry.
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
	Close() error
}

// NoOpSink discards every entry
type NoOpSink struct{}

func (NoOpSink) Write(ctx context.Context, entry *Entry) error { return nil }
func (NoOpSink) Close() error                                  { return nil }

// MemorySink keeps entries in memory. Used by tests and development servers.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends a copy of entry
func (s *MemorySink) Write(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	if entry.Meta != nil {
		copied.Meta = make(map[string]any, len(entry.Meta))
		for k, v := range entry.Meta {
			copied.Meta[k] = v
		}
	}
	s.entries = append(s.entries, copied)
	return nil
}

// Entries returns a snapshot of everything written so far
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByAction returns the entries with the given action
func (s *MemorySink) ByAction(action Action) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemorySink) Close() error {
	return nil
}
