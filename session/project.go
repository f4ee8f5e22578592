package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/richinex/tagloop/prompts"
)

// Project owns the durable directories of one named workspace:
//
//	<root>/<name>/history     saved sessions
//	<root>/<name>/ref_space   reference files loaded with the file tag
//	<root>/<name>/code_space  the tree write/edit/run/test operate on
//	<root>/<name>/prompt      prompt texts
type Project struct {
	Name string
	Root string
}

// NewProject returns the project called name under root. Nothing is created
// until Setup is called.
func NewProject(root, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid project name %q", name)
	}
	return &Project{Name: name, Root: filepath.Join(root, name)}, nil
}

// HistoryDir is where sessions are saved.
func (p *Project) HistoryDir() string { return filepath.Join(p.Root, "history") }

// RefDir holds reference files.
func (p *Project) RefDir() string { return filepath.Join(p.Root, "ref_space") }

// CodeDir is the code space.
func (p *Project) CodeDir() string { return filepath.Join(p.Root, "code_space") }

// PromptDir holds prompt texts.
func (p *Project) PromptDir() PromptDir { return PromptDir{Dir: filepath.Join(p.Root, "prompt")} }

// Setup creates the project directories and installs default prompts that
// are not present yet.
func (p *Project) Setup() error {
	for _, dir := range []string{p.Root, p.HistoryDir(), p.RefDir(), p.CodeDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if _, err := prompts.Install(p.PromptDir().Dir); err != nil {
		return err
	}
	return nil
}

// ListProjects returns the project names under root, sorted.
func ListProjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
