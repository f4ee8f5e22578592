package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/richinex/tagloop/config"
	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/turn"
)

func loadSettings(t *testing.T, extra string) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tagloop.yaml")
	body := "projects:\n  root: " + filepath.Join(dir, "projects") + "\n  default: demo\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	s, err := config.Load(path)
	require.NoError(t, err)
	return s
}

func TestRendererSeparatesThinkFromContent(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	r.StreamStarted()
	r.StreamChunk(llm.StreamChunk{Reasoning: "let me think"})
	r.StreamChunk(llm.StreamChunk{Content: "hello"})
	r.StreamChunk(llm.StreamChunk{Content: " world"})
	r.StreamFinished(1500*time.Millisecond, nil)

	got := out.String()
	require.Contains(t, got, "AI回复: ")
	require.Contains(t, got, "let me think\n\nhello world")
	require.Contains(t, got, "耗时1.50秒")
}

func TestRendererStatusAndNotices(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	r.SystemNotice("line one\nline two")
	r.TurnStatus(turn.Status{Session: "s1", Tokens: 42, Skips: 1, MaxSkips: turn.Unbounded})
	r.TurnStatus(turn.Status{Session: "s1", Tokens: 42, Skips: 2, MaxSkips: 3})
	r.Prompt()

	got := out.String()
	require.Contains(t, got, "line one\nline two\n")
	require.Contains(t, got, "会话 s1 | 约 42 tokens | 连续跳过 1/∞")
	require.Contains(t, got, "连续跳过 2/3")
	require.True(t, strings.HasSuffix(got, inputPrompt))
}

func TestConnect(t *testing.T) {
	s := loadSettings(t, "active_source: ollama\n")
	client, err := Connect(s)
	require.NoError(t, err)
	require.Equal(t, "ollama", client.Provider().Name())

	s = loadSettings(t, "")
	_, err = Connect(s)
	require.ErrorIs(t, err, llm.ErrNoClient)

	t.Setenv("DEEPSEEK_API_KEY", "")
	s = loadSettings(t, "active_source: deepseek\n")
	_, err = Connect(s)
	require.Error(t, err)

	s = loadSettings(t, "active_source: deepseek\napi_keys:\n  deepseek: sk-test\nmodels:\n  deepseek: deepseek-reasoner\n")
	client, err = Connect(s)
	require.NoError(t, err)
	require.Equal(t, "deepseek-reasoner", client.Provider().Model())
}

func runChat(t *testing.T, s *config.Settings, input string) string {
	t.Helper()
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Chat(ctx, s, Options{In: strings.NewReader(input), Out: &out})
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "chat must end on its own")
	return out.String()
}

func TestChatRunsCommandsAndExits(t *testing.T) {
	s := loadSettings(t, "active_source: ollama\n")
	out := runChat(t, s, "/help ai\n/exit\n")

	require.Contains(t, out, "当前AI加载器来源：ollama")
	require.Contains(t, out, "加载提示词 tools.txt")
	require.Contains(t, out, "命令: /ai")
	require.Contains(t, out, "正在退出程序...")
	require.Contains(t, out, inputPrompt)
}

func TestChatEndsOnEOF(t *testing.T) {
	s := loadSettings(t, "")
	out := runChat(t, s, "")
	require.Contains(t, out, "未选择AI加载器来源")
}

func TestChatReportsMissingSourceOnInput(t *testing.T) {
	s := loadSettings(t, "")
	out := runChat(t, s, "hello\n/exit\n")
	require.Contains(t, out, "AI源不可用")

	p, err := OpenProject(s, "")
	require.NoError(t, err)
	names, err := os.ReadDir(p.HistoryDir())
	require.NoError(t, err)
	require.Len(t, names, 1, "the conversation is saved on exit")
}

func TestSessionListingAndShow(t *testing.T) {
	s := loadSettings(t, "")
	ctx := context.Background()
	p, err := OpenProject(s, "")
	require.NoError(t, err)
	store, closeStore, err := OpenStore(s, p)
	require.NoError(t, err)

	h := session.NewNamed("first")
	h.Add(model.RoleUser, "question", "question")
	h.Append(model.Message{Role: model.RoleAssistant, ForModel: "answer", ForUser: "answer", Think: "pondering"})
	h.Add(model.RoleSystem, "raw file", "")
	require.NoError(t, store.Save(ctx, "first", h.Transcript()))
	require.NoError(t, closeStore())

	var out bytes.Buffer
	require.NoError(t, ListSessions(ctx, s, "", &out))
	require.Equal(t, "first\n", out.String())

	out.Reset()
	require.NoError(t, ShowSession(ctx, s, "", "first", &out))
	require.Equal(t, "# first\n\n### 用户\n\nquestion\n\n### AI\n\n> pondering\n\nanswer\n\n", out.String())

	err = ShowSession(ctx, s, "", "ghost", &out)
	require.Error(t, err)

	out.Reset()
	require.NoError(t, DeleteSession(ctx, s, "", "first", &out))
	out.Reset()
	require.NoError(t, ListSessions(ctx, s, "", &out))
	require.Equal(t, "没有保存的会话\n", out.String())
}

func TestProjectPromptAndToolListings(t *testing.T) {
	s := loadSettings(t, "")
	var out bytes.Buffer

	require.NoError(t, ListPrompts(s, "", &out))
	require.Contains(t, out.String(), fmt.Sprintf("%-15s %s\n", "summarizer", "关闭"))
	require.Contains(t, out.String(), fmt.Sprintf("%-15s %s\n", "tools", "开启"))

	out.Reset()
	require.NoError(t, ListProjects(s, &out))
	require.Equal(t, "* demo\n", out.String())

	out.Reset()
	require.NoError(t, ListTools(s, "", false, &out))
	require.Contains(t, out.String(), "  debugger\n")
	require.Contains(t, out.String(), "  write\n")
}

func TestOpenProjectRejectsBadNames(t *testing.T) {
	s := loadSettings(t, "")
	_, err := OpenProject(s, "../escape")
	require.Error(t, err)
	require.False(t, errors.Is(err, os.ErrNotExist))
}
