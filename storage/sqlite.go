// Package storage provides SQLite session storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/tagloop/model"
)

// SqliteStorage implements SessionStore using SQLite.
// One database can hold the sessions of many projects; each SqliteStorage
// value is scoped to one project.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db      *sql.DB
	project string
}

// OpenSqlite opens or creates a SQLite database at the given path, scoped to
// project. Creates parent directories if they don't exist.
func OpenSqlite(path, project string) (*SqliteStorage, error) {
	// Create parent directory if needed
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db, project: project}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory(project string) (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// every pooled connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db, project: project}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			project TEXT NOT NULL,
			name TEXT NOT NULL,
			prompt_settings TEXT NOT NULL DEFAULT '{}',
			tool_settings TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (project, name)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			session_name TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			for_model TEXT NOT NULL,
			for_user TEXT NOT NULL,
			think TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			UNIQUE(project, session_name, message_index)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(project, session_name, message_index);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save replaces the stored transcript of a session.
func (s *SqliteStorage) Save(ctx context.Context, name string, transcript model.Transcript) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	promptSettings, err := json.Marshal(orEmpty(transcript.PromptSettings))
	if err != nil {
		return fmt.Errorf("failed to encode prompt settings: %w", err)
	}
	toolSettings, err := json.Marshal(orEmpty(transcript.ToolSettings))
	if err != nil {
		return fmt.Errorf("failed to encode tool settings: %w", err)
	}

	// Start transaction
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (project, name, prompt_settings, tool_settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, name) DO UPDATE SET
			prompt_settings = excluded.prompt_settings,
			tool_settings = excluded.tool_settings,
			updated_at = excluded.updated_at`,
		s.project, name, string(promptSettings), string(toolSettings), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	// Clear existing messages for this session
	_, err = tx.ExecContext(ctx,
		"DELETE FROM messages WHERE project = ? AND session_name = ?", s.project, name)
	if err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	// Insert all messages
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, project, session_name, message_index, role, for_model, for_user, think, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range transcript.Messages {
		tags := msg.Tags
		if tags == nil {
			tags = []string{}
		}
		encoded, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		_, err = stmt.ExecContext(ctx, uuid.NewString(), s.project, name, i,
			string(msg.Role), msg.ForModel, msg.ForUser, msg.Think, string(encoded))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Load loads the transcript of a session.
// Returns an empty transcript if the session doesn't exist.
func (s *SqliteStorage) Load(ctx context.Context, name string) (model.Transcript, error) {
	t := model.NewTranscript()

	var promptSettings, toolSettings string
	err := s.db.QueryRowContext(ctx,
		"SELECT prompt_settings, tool_settings FROM sessions WHERE project = ? AND name = ?",
		s.project, name).Scan(&promptSettings, &toolSettings)
	if err == sql.ErrNoRows {
		return t, nil
	}
	if err != nil {
		return model.Transcript{}, fmt.Errorf("failed to query session: %w", err)
	}
	if err := json.Unmarshal([]byte(promptSettings), &t.PromptSettings); err != nil {
		return model.Transcript{}, fmt.Errorf("failed to decode prompt settings: %w", err)
	}
	if err := json.Unmarshal([]byte(toolSettings), &t.ToolSettings); err != nil {
		return model.Transcript{}, fmt.Errorf("failed to decode tool settings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, for_model, for_user, think, tags FROM messages
		WHERE project = ? AND session_name = ? ORDER BY message_index ASC`,
		s.project, name)
	if err != nil {
		return model.Transcript{}, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg  model.Message
			role string
			tags string
		)
		if err := rows.Scan(&role, &msg.ForModel, &msg.ForUser, &msg.Think, &tags); err != nil {
			return model.Transcript{}, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Role, err = model.ParseRole(role); err != nil {
			return model.Transcript{}, err
		}
		if err := json.Unmarshal([]byte(tags), &msg.Tags); err != nil {
			return model.Transcript{}, fmt.Errorf("failed to decode tags: %w", err)
		}
		if len(msg.Tags) == 0 {
			msg.Tags = nil
		}
		t.Messages = append(t.Messages, msg)
	}

	if err := rows.Err(); err != nil {
		return model.Transcript{}, fmt.Errorf("error iterating messages: %w", err)
	}

	return t, nil
}

// Delete deletes a session and its messages.
func (s *SqliteStorage) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE project = ? AND session_name = ?", s.project, name); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM sessions WHERE project = ? AND name = ?", s.project, name); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSessions lists session names, most recently updated first.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sessions WHERE project = ? ORDER BY updated_at DESC, name DESC", s.project)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Exists checks if a session exists.
func (s *SqliteStorage) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE project = ? AND name = ?",
		s.project, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}

	return count > 0, nil
}

func orEmpty(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

// Verify SqliteStorage implements SessionStore
var _ SessionStore = (*SqliteStorage)(nil)
