package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/prompts"
)

// PromptDir reads prompt texts from a project's prompt directory.
type PromptDir struct {
	Dir string
}

// ToolDoc is the documentation of one tool kind.
type ToolDoc struct {
	Kind string // file stem, matches the tool kind
	Name string // first line of the file
	Body string
}

// Names lists the head prompts (*.txt directly under the directory), sorted.
func (p PromptDir) Names() ([]string, error) {
	return txtStems(p.Dir)
}

// Read returns the prompt text for name, which may contain a subdirectory
// such as "agent/debugger". Missing files fall back to the embedded default.
func (p PromptDir) Read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.Dir, filepath.FromSlash(name)+".txt"))
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read prompt %s: %w", name, err)
	}
	return prompts.Default(name)
}

// ToolDocs lists the tool documentation files, sorted by kind.
func (p PromptDir) ToolDocs() ([]ToolDoc, error) {
	kinds, err := txtStems(filepath.Join(p.Dir, "tool"))
	if err != nil {
		return nil, err
	}
	docs := make([]ToolDoc, 0, len(kinds))
	for _, kind := range kinds {
		doc, err := p.ToolDoc(kind)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ToolDoc returns the documentation of one tool kind.
func (p PromptDir) ToolDoc(kind string) (ToolDoc, error) {
	body, err := p.Read("tool/" + kind)
	if err != nil {
		return ToolDoc{}, err
	}
	name, _, _ := strings.Cut(body, "\n")
	return ToolDoc{Kind: kind, Name: strings.TrimSpace(name), Body: body}, nil
}

func txtStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts in %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(names)
	return names, nil
}

// SyncPromptSettings fills in switches for prompts the history has not seen:
// the well-known defaults first, then every other file enabled.
func SyncPromptSettings(h *History, dir PromptDir) error {
	names, err := dir.Names()
	if err != nil {
		return err
	}
	defaults := prompts.DefaultSettings()
	for name, enabled := range defaults {
		if _, known := h.PromptEnabled(name); !known {
			h.SetPromptEnabled(name, enabled)
		}
	}
	for _, name := range names {
		if _, known := h.PromptEnabled(name); !known {
			h.SetPromptEnabled(name, true)
		}
	}
	return nil
}

// ReloadPrompts drops every prompt-tagged message and re-inserts the enabled
// head prompts followed by the docs of enabled tools. It returns the notices
// shown to the user, one per loaded file.
func ReloadPrompts(h *History, dir PromptDir) ([]string, error) {
	if err := SyncPromptSettings(h, dir); err != nil {
		return nil, err
	}
	names, err := dir.Names()
	if err != nil {
		return nil, err
	}
	docs, err := dir.ToolDocs()
	if err != nil {
		return nil, err
	}

	var fresh []model.Message
	var loaded []string
	for _, name := range names {
		if enabled, _ := h.PromptEnabled(name); !enabled {
			continue
		}
		text, err := dir.Read(name)
		if err != nil {
			return nil, err
		}
		notice := "加载提示词 " + name + ".txt"
		fresh = append(fresh, model.NewMessage(model.RoleSystem, text, notice, model.TagPrompt))
		loaded = append(loaded, notice)
	}
	for _, doc := range docs {
		if !h.ToolEnabled(doc.Kind) {
			continue
		}
		notice := "加载工具说明 " + doc.Name
		fresh = append(fresh, model.NewMessage(model.RoleSystem, doc.Body, notice, model.TagPrompt, model.TagTool))
		loaded = append(loaded, notice)
	}

	h.ReplaceTagged(model.TagPrompt, fresh)
	return loaded, nil
}

// DebugPrompt is the system prompt of the debug sub-loop: the debugger
// prompt followed by the docs of the tools it may use.
func DebugPrompt(dir PromptDir) (string, error) {
	text, err := dir.Read(prompts.Debugger)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(text)
	for _, kind := range []string{"write", "edit", "test"} {
		doc, err := dir.ToolDoc(kind)
		if err != nil {
			return "", err
		}
		b.WriteString(doc.Body)
	}
	return b.String(), nil
}
