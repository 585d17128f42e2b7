// Package history keeps a bounded, newest-first list of recent search queries.
package history

import (
	"strings"
	"sync"
)

const defaultLimit = 20

// Store is an in-memory recent-query list. Entries are de-duplicated
// case-insensitively; repeating a query moves it back to the front.
type Store struct {
	mu      sync.Mutex
	limit   int
	entries []string
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{limit: limit}
}

// Add records a query at the front of the list.
func (s *Store) Add(query string) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]string, 0, len(s.entries)+1)
	kept = append(kept, trimmed)
	for _, entry := range s.entries {
		if strings.EqualFold(entry, trimmed) {
			continue
		}
		kept = append(kept, entry)
	}
	if len(kept) > s.limit {
		kept = kept[:s.limit]
	}
	s.entries = kept
}

// Recent returns a copy of the list, newest first.
func (s *Store) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// Replace swaps the whole list in one step, applying the same
// trim/dedupe/limit rules. Readers never observe a half-built list.
// Used by the debug seed operation.
func (s *Store) Replace(queries []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]string, 0, len(queries))
	for _, query := range queries {
		trimmed := strings.TrimSpace(query)
		if trimmed == "" {
			continue
		}
		seen := false
		for _, entry := range entries {
			if strings.EqualFold(entry, trimmed) {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		entries = append(entries, trimmed)
		if len(entries) == s.limit {
			break
		}
	}
	s.entries = entries
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
