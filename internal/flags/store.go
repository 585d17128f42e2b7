// Package flags serializes debug operations: at most one seed/clear style
// operation may run at a time, and the UI can ask which one holds the flag.
package flags

import "sync"

// Store is a try-lock keyed by operation name.
type Store struct {
	mu    sync.Mutex
	owner string
}

func NewStore() *Store {
	return &Store{}
}

// TryAcquire claims the flag for op. It never blocks: if any operation
// already holds the flag, it returns false.
func (s *Store) TryAcquire(op string) bool {
	if op == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" {
		return false
	}
	s.owner = op
	return true
}

// Release returns the flag if op holds it. Releasing a flag held by another
// operation, or held by no one, is a no-op.
func (s *Store) Release(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == op {
		s.owner = ""
	}
}

// Busy reports the operation currently holding the flag, if any.
func (s *Store) Busy() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, s.owner != ""
}
