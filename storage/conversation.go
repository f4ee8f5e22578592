// Package storage provides session storage abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory, JSON files and SQLite without API changes
// - Each storage implementation encapsulates its own data structures and protocols

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richinex/tagloop/model"
)

// ErrInvalidName is returned for session names that cannot be stored safely.
var ErrInvalidName = errors.New("invalid session name")

// SessionStore defines the interface for persisting named sessions.
// Implementations can use different backends (memory, JSON files, database).
type SessionStore interface {
	// Save replaces the stored transcript of a session.
	Save(ctx context.Context, name string, transcript model.Transcript) error

	// Load loads the transcript of a session.
	// Returns an empty transcript (not an error) if the session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	Load(ctx context.Context, name string) (model.Transcript, error)

	// Delete deletes a session.
	Delete(ctx context.Context, name string) error

	// ListSessions lists session names, most recently updated first.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, name string) (bool, error)
}

// ValidateName rejects empty names and names containing path separators.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
