package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richinex/tagloop/model"
)

func newProject(t *testing.T) *Project {
	t.Helper()
	p, err := NewProject(t.TempDir(), "demo")
	require.NoError(t, err)
	require.NoError(t, p.Setup())
	return p
}

func TestProjectSetupAndList(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b", "a"} {
		p, err := NewProject(root, name)
		require.NoError(t, err)
		require.NoError(t, p.Setup())
		require.DirExists(t, p.CodeDir())
		require.DirExists(t, p.RefDir())
		require.DirExists(t, p.HistoryDir())
		require.FileExists(t, filepath.Join(p.PromptDir().Dir, "tools.txt"))
	}

	names, err := ListProjects(root)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	_, err = NewProject(root, "../escape")
	require.Error(t, err)
}

func TestReloadPromptsHonoursSettings(t *testing.T) {
	p := newProject(t)
	dir := p.PromptDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir.Dir, "extra.txt"), []byte("extra prompt"), 0644))

	h := NewNamed("t")
	h.Add(model.RoleUser, "hello", "hello")
	h.SetToolEnabled("search", false)

	loaded, err := ReloadPrompts(h, dir)
	require.NoError(t, err)
	require.Contains(t, loaded, "加载提示词 tools.txt")
	require.Contains(t, loaded, "加载提示词 extra.txt")
	require.NotContains(t, loaded, "加载提示词 summarizer.txt")

	enabled, known := h.PromptEnabled("extra")
	require.True(t, known)
	require.True(t, enabled)

	msgs := h.Messages()
	require.Equal(t, "hello", msgs[len(msgs)-1].ForModel)
	for _, m := range msgs[:len(msgs)-1] {
		require.True(t, m.HasTag(model.TagPrompt))
		require.NotContains(t, m.ForModel, "<search 关键词>")
	}

	// toggling off and reloading drops the prompt without duplicating others
	h.SetPromptEnabled("extra", false)
	_, err = ReloadPrompts(h, dir)
	require.NoError(t, err)
	require.Equal(t, len(msgs)-1, h.Len())
}

func TestToolDocNameIsFirstLine(t *testing.T) {
	p := newProject(t)
	doc, err := p.PromptDir().ToolDoc("write")
	require.NoError(t, err)
	require.Equal(t, "写入文件工具", doc.Name)
}

func TestWorkspaceReloadOnlyOnChange(t *testing.T) {
	p := newProject(t)
	main := filepath.Join(p.CodeDir(), "main.py")
	require.NoError(t, os.WriteFile(main, []byte("def main():\n    print(1)\n"), 0644))

	w := NewWorkspace()
	h := NewNamed("t")

	changed, err := w.ReloadCode(h, p.CodeDir(), false)
	require.NoError(t, err)
	require.True(t, changed)
	msgs := h.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].ForModel, "   1: def main():")
	require.True(t, msgs[0].HasTag(model.TagCode))

	changed, err = w.ReloadCode(h, p.CodeDir(), false)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(main, []byte("def main():\n    print(2)\n"), 0644))
	changed, err = w.ReloadCode(h, p.CodeDir(), false)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, h.Len())

	// a different history always gets its own copy
	other := NewNamed("o")
	changed, err = w.ReloadCode(other, p.CodeDir(), false)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestWorkspaceEmptyCodeSpace(t *testing.T) {
	p := newProject(t)
	h := NewNamed("t")
	_, err := NewWorkspace().ReloadCode(h, p.CodeDir(), true)
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())

	var nilWorkspace *Workspace
	_, err = nilWorkspace.ReloadCode(h, filepath.Join(t.TempDir(), "missing"), false)
	require.NoError(t, err)
}

func TestReloadReferenceSkipsUnsupported(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.RefDir(), "notes.md"), []byte("# notes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p.RefDir(), "blob.bin"), []byte{1, 2}, 0644))

	h := NewNamed("t")
	_, err := NewWorkspace().ReloadReference(h, p.RefDir(), false)
	require.NoError(t, err)
	msgs := h.Messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].HasTag(model.TagFile))
	require.Contains(t, msgs[0].ForModel, "# notes")
}

func TestReadFileContent(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}

	text, err := ReadFileContent(write("a.csv", "name,age\nann,3\n"))
	require.NoError(t, err)
	require.Equal(t, "CSV文件包含 2 列: name, age\n行 1: name=ann, age=3", text)

	text, err = ReadFileContent(write("a.json", `{"a":1}`))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "JSON数据结构摘要:\n{"))

	text, err = ReadFileContent(write("a.py", "x = 1\ny = 2\n"))
	require.NoError(t, err)
	require.Contains(t, text, "   1: x = 1\n   2: y = 2\n")

	_, err = ReadFileContent(write("a.exe", ""))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadFileContent(filepath.Join(dir, "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoaderUsesProjectDirs(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.CodeDir(), "main.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p.RefDir(), "notes.txt"), []byte("ref"), 0644))

	l := NewWorkspace().Loader(p)
	h := NewNamed("t")
	require.NoError(t, l.ReloadCode(h))
	require.NoError(t, l.ReloadReference(h))

	var tags []string
	for _, m := range h.Messages() {
		tags = append(tags, m.Tags...)
	}
	require.ElementsMatch(t, []string{model.TagCode, model.TagFile}, tags)
}

func TestDebugPromptIncludesToolDocs(t *testing.T) {
	p := newProject(t)
	text, err := DebugPrompt(p.PromptDir())
	require.NoError(t, err)

	write, err := p.PromptDir().ToolDoc("write")
	require.NoError(t, err)
	require.Contains(t, text, write.Body)
	require.NotContains(t, text, "<search")
}
