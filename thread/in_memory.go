// Package thread provides the in-memory transcript store for conversation
// threads. A thread is the enclosing conversation under which executions
// occur; its transcript is append-only and ordered by emission time, and it
// records owner attribution used when persisting checkpoints.
package thread

import (
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

type record struct {
	owner    string
	messages []core.Message
}

// InMemoryStore is a volatile core.ThreadStore implementation storing
// transcripts in a process-local map. It is safe for concurrent access.
// Returned histories are defensive copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*record
}

// NewInMemoryStore constructs an empty in-memory thread store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*record)}
}

// Append adds a message to the thread's transcript, creating the thread
// lazily.
func (s *InMemoryStore) Append(threadID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getLocked(threadID)
	rec.messages = append(rec.messages, msg)
	return nil
}

// History returns a copy of the thread's ordered transcript. Unknown threads
// yield an empty history, not an error.
func (s *InMemoryStore) History(threadID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return []core.Message{}, nil
	}
	out := make([]core.Message, len(rec.messages))
	copy(out, rec.messages)
	return out, nil
}

// Owner returns the owning user of the thread, if recorded.
func (s *InMemoryStore) Owner(threadID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok || rec.owner == "" {
		return "", false
	}
	return rec.owner, true
}

// SetOwner records thread ownership for later attribution lookups.
func (s *InMemoryStore) SetOwner(threadID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(threadID).owner = userID
	return nil
}

// getLocked returns the record for threadID, creating it if absent. Caller
// must hold the write lock.
func (s *InMemoryStore) getLocked(threadID string) *record {
	rec, ok := s.threads[threadID]
	if !ok {
		rec = &record{}
		s.threads[threadID] = rec
	}
	return rec
}
