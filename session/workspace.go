package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/richinex/tagloop/model"
)

// Workspace reloads the code space and reference space into a history.
// A digest of each directory is kept per tag so an unchanged directory does
// not rewrite the tagged messages of the same history.
type Workspace struct {
	mu      sync.Mutex
	digests map[string]digestEntry
}

type digestEntry struct {
	history *History
	sum     uint64
}

// NewWorkspace creates a workspace reloader.
func NewWorkspace() *Workspace {
	return &Workspace{digests: make(map[string]digestEntry)}
}

type workspaceFile struct {
	rel  string
	path string
	data []byte
}

// ReloadCode loads every file of the code space as a code-tagged system
// message. It reports whether the history was rewritten.
func (w *Workspace) ReloadCode(h *History, dir string, force bool) (bool, error) {
	files, err := readTree(dir, false)
	if err != nil {
		return false, err
	}
	return w.reload(h, model.TagCode, files, force, codeMessages)
}

// ReloadReference loads every supported file of the reference space as a
// file-tagged system message.
func (w *Workspace) ReloadReference(h *History, dir string, force bool) (bool, error) {
	files, err := readTree(dir, true)
	if err != nil {
		return false, err
	}
	return w.reload(h, model.TagFile, files, force, referenceMessages)
}

func (w *Workspace) reload(h *History, tag string, files []workspaceFile, force bool, build func([]workspaceFile) []model.Message) (bool, error) {
	sum := digest(files)

	if w != nil {
		w.mu.Lock()
		prev, ok := w.digests[tag]
		w.mu.Unlock()
		if !force && ok && prev.history == h && prev.sum == sum {
			return false, nil
		}
	}

	h.ReplaceTagged(tag, build(files))

	if w != nil {
		w.mu.Lock()
		w.digests[tag] = digestEntry{history: h, sum: sum}
		w.mu.Unlock()
	}
	return true, nil
}

func digest(files []workspaceFile) uint64 {
	d := xxhash.New()
	for _, f := range files {
		_, _ = d.WriteString(f.rel)
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(f.data)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

func readTree(dir string, recursive bool) ([]workspaceFile, error) {
	var files []workspaceFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || strings.HasPrefix(name, ".") || name == "__pycache__" {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, workspaceFile{rel: filepath.ToSlash(rel), path: path, data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func codeMessages(files []workspaceFile) []model.Message {
	if len(files) == 0 {
		return []model.Message{model.NewMessage(model.RoleSystem, "代码空间当前没有文件。", "代码空间为空", model.TagCode)}
	}
	msgs := make([]model.Message, 0, len(files))
	for _, f := range files {
		body := string(f.data)
		if strings.HasSuffix(f.rel, ".py") {
			body = "```python\n" + NumberLines(body) + "\n```"
		}
		msgs = append(msgs, model.NewMessage(model.RoleSystem,
			fmt.Sprintf("代码空间文件 %s 的内容：\n%s", f.rel, body),
			"加载代码文件 "+f.rel,
			model.TagCode))
	}
	return msgs
}

func referenceMessages(files []workspaceFile) []model.Message {
	var msgs []model.Message
	for _, f := range files {
		text, err := ReadFileContent(f.path)
		if err != nil {
			continue
		}
		msgs = append(msgs, model.NewMessage(model.RoleSystem,
			fmt.Sprintf("参考文件 %s 的内容：\n%s", f.rel, text),
			"加载参考文件 "+f.rel,
			model.TagFile))
	}
	return msgs
}

// Loader binds a Workspace to the directories of one project.
type Loader struct {
	ws      *Workspace
	project *Project
}

// Loader returns a loader for project p.
func (w *Workspace) Loader(p *Project) *Loader {
	return &Loader{ws: w, project: p}
}

// ReloadCode refreshes the code-tagged messages of h when the code space
// changed since the last reload of h.
func (l *Loader) ReloadCode(h *History) error {
	_, err := l.ws.ReloadCode(h, l.project.CodeDir(), false)
	return err
}

// ReloadReference refreshes the file-tagged messages of h.
func (l *Loader) ReloadReference(h *History) error {
	_, err := l.ws.ReloadReference(h, l.project.RefDir(), false)
	return err
}
