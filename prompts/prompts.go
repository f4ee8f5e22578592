// Package prompts ships the default prompt texts and installs them into a
// project's prompt directory.
//
// Layout of an installed prompt directory:
//
//	prompt/*.txt        head prompts, toggled by /prompt
//	prompt/tool/*.txt   tool documentation, first line is the display name
//	prompt/agent/*.txt  prompts used by sub-agents (debugger)
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed defaults
var defaults embed.FS

// Well-known prompt names.
const (
	Tools      = "tools"
	Restrict   = "restrict"
	Summarizer = "summarizer"
	Debugger   = "agent/debugger"
)

// DefaultSettings are the initial switches for the head prompts. Prompt files
// not listed here are enabled when first seen.
func DefaultSettings() map[string]bool {
	return map[string]bool{
		Tools:      true,
		Restrict:   true,
		Summarizer: false,
	}
}

// Default returns an embedded prompt by name, e.g. "summarizer" or
// "tool/write".
func Default(name string) (string, error) {
	data, err := defaults.ReadFile("defaults/" + name + ".txt")
	if err != nil {
		return "", fmt.Errorf("no default prompt %q: %w", name, err)
	}
	return string(data), nil
}

// Install copies the embedded prompts into dir. Existing files are left
// untouched so user edits survive. It returns the number of files written.
func Install(dir string) (int, error) {
	written := 0
	err := fs.WalkDir(defaults, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("defaults", path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		data, err := defaults.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("failed to install prompts into %s: %w", dir, err)
	}
	return written, nil
}
