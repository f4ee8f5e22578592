// Package storage provides in-memory session storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/richinex/tagloop/model"
)

type memoryEntry struct {
	transcript model.Transcript
	updatedAt  time.Time
}

// InMemoryStorage implements SessionStore using an in-memory map.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string]memoryEntry),
	}
}

// Save saves the transcript of a session.
func (s *InMemoryStorage) Save(ctx context.Context, name string, transcript model.Transcript) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid external mutations
	s.sessions[name] = memoryEntry{transcript: transcript.Clone(), updatedAt: time.Now()}
	return nil
}

// Load loads the transcript of a session.
// Returns an empty transcript if the session doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, name string) (model.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[name]
	if !ok {
		return model.NewTranscript(), nil
	}
	return entry.transcript.Clone(), nil
}

// Delete deletes a session.
func (s *InMemoryStorage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, name)
	return nil
}

// ListSessions lists session names, most recently saved first.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.sessions[names[i]].updatedAt, s.sessions[names[j]].updatedAt
		if a.Equal(b) {
			return names[i] > names[j]
		}
		return a.After(b)
	})
	return names, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[name]
	return ok, nil
}

// Verify InMemoryStorage implements SessionStore
var _ SessionStore = (*InMemoryStorage)(nil)
