// Package storage provides JSON-file session storage.
//
// Information Hiding:
// - One <name>.json file per session inside a directory
// - Writes go through a temp file and rename so a crash never leaves half a file
// - Legacy bare-array files are read through model.Transcript

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/richinex/tagloop/model"
)

const sessionExt = ".json"

// JSONDirStorage implements SessionStore with one JSON file per session.
type JSONDirStorage struct {
	dir string
}

// NewJSONDirStorage stores sessions under dir, creating it if needed.
func NewJSONDirStorage(dir string) (*JSONDirStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &JSONDirStorage{dir: dir}, nil
}

// Dir returns the directory sessions are stored in.
func (s *JSONDirStorage) Dir() string {
	return s.dir
}

func (s *JSONDirStorage) path(name string) string {
	return filepath.Join(s.dir, name+sessionExt)
}

// Save writes the transcript of a session.
func (s *JSONDirStorage) Save(ctx context.Context, name string, transcript model.Transcript) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads the transcript of a session.
// Returns an empty transcript if the file doesn't exist.
func (s *JSONDirStorage) Load(ctx context.Context, name string) (model.Transcript, error) {
	if err := ValidateName(name); err != nil {
		return model.Transcript{}, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewTranscript(), nil
	}
	if err != nil {
		return model.Transcript{}, fmt.Errorf("failed to read session: %w", err)
	}

	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Transcript{}, fmt.Errorf("failed to decode session %s: %w", name, err)
	}
	return t, nil
}

// Delete removes a session file. Missing files are not an error.
func (s *JSONDirStorage) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions lists session names, most recently modified first.
func (s *JSONDirStorage) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	type item struct {
		name string
		mod  int64
	}
	items := []item{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sessionExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{strings.TrimSuffix(e.Name(), sessionExt), info.ModTime().UnixNano()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mod == items[j].mod {
			return items[i].name > items[j].name
		}
		return items[i].mod > items[j].mod
	})

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}

// Exists checks if a session file exists.
func (s *JSONDirStorage) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, nil
	}
	_, err := os.Stat(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return true, nil
}

// Verify JSONDirStorage implements SessionStore
var _ SessionStore = (*JSONDirStorage)(nil)
