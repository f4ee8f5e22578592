// Non-interactive listings: sessions, projects, prompts and tools.
//
// Information Hiding:
// - Markdown rendering of transcripts (glamour) hidden
// - Terminal detection hidden

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/richinex/tagloop/config"
	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/storage"
	"github.com/richinex/tagloop/tools"
)

var roleTitles = map[model.Role]string{
	model.RoleUser:      "用户",
	model.RoleAssistant: "AI",
	model.RoleSystem:    "系统",
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func withStore(ctx context.Context, settings *config.Settings, project string, fn func(storage.SessionStore) error) error {
	p, err := OpenProject(settings, project)
	if err != nil {
		return err
	}
	store, closeStore, err := OpenStore(settings, p)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeStore()
	return fn(store)
}

// ListSessions prints the saved sessions of a project, newest first.
func ListSessions(ctx context.Context, settings *config.Settings, project string, out io.Writer) error {
	return withStore(ctx, settings, project, func(store storage.SessionStore) error {
		names, err := store.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(names) == 0 {
			fmt.Fprintln(out, "没有保存的会话")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	})
}

// ShowSession prints the user-facing transcript of a saved session, rendered
// as markdown on terminals.
func ShowSession(ctx context.Context, settings *config.Settings, project, name string, out io.Writer) error {
	return withStore(ctx, settings, project, func(store storage.SessionStore) error {
		exists, err := store.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check session %s: %w", name, err)
		}
		if !exists {
			return fmt.Errorf("session %s not found", name)
		}
		t, err := store.Load(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", name, err)
		}

		md := TranscriptMarkdown(name, t)
		if isTerminal(out) {
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(0))
			if err == nil {
				if rendered, err := r.Render(md); err == nil {
					md = rendered
				}
			}
		}
		_, err = io.WriteString(out, md)
		return err
	})
}

// DeleteSession removes a saved session.
func DeleteSession(ctx context.Context, settings *config.Settings, project, name string, out io.Writer) error {
	return withStore(ctx, settings, project, func(store storage.SessionStore) error {
		if err := store.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", name, err)
		}
		fmt.Fprintf(out, "已删除会话 %s\n", name)
		return nil
	})
}

// TranscriptMarkdown formats what the user saw during a session.
func TranscriptMarkdown(name string, t model.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	for _, m := range t.Messages {
		text := strings.TrimSpace(m.ForUser)
		if text == "" {
			continue
		}
		title, ok := roleTitles[m.Role]
		if !ok {
			title = string(m.Role)
		}
		fmt.Fprintf(&b, "### %s\n\n", title)
		if m.Think != "" {
			for _, line := range strings.Split(strings.TrimSpace(m.Think), "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
			b.WriteString("\n")
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// ListProjects prints the project names under projects.root.
func ListProjects(settings *config.Settings, out io.Writer) error {
	names, err := session.ListProjects(settings.Projects.Root)
	if err != nil {
		return err
	}
	for _, name := range names {
		marker := " "
		if name == settings.Projects.Default {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, name)
	}
	return nil
}

// ListPrompts prints the head prompts of a project and whether a new session
// starts with them enabled.
func ListPrompts(settings *config.Settings, project string, out io.Writer) error {
	p, err := OpenProject(settings, project)
	if err != nil {
		return err
	}
	h := session.NewHistory()
	if err := session.SyncPromptSettings(h, p.PromptDir()); err != nil {
		return err
	}
	names, err := p.PromptDir().Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		enabled, _ := h.PromptEnabled(name)
		fmt.Fprintf(out, "%-15s %s\n", name, onOff(enabled))
	}
	return nil
}

// ListTools prints every tool kind with the display name from its doc.
func ListTools(settings *config.Settings, project string, verbose bool, out io.Writer) error {
	p, err := OpenProject(settings, project)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Available tools:")
	fmt.Fprintln(out)
	for _, kind := range tools.Kinds {
		doc, err := p.PromptDir().ToolDoc(string(kind))
		if err != nil {
			fmt.Fprintf(out, "  %s\n\n", kind)
			continue
		}
		fmt.Fprintf(out, "  %s\n    %s\n", kind, doc.Name)
		if verbose {
			_, body, _ := strings.Cut(doc.Body, "\n")
			for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
				fmt.Fprintf(out, "      %s\n", line)
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "开启"
	}
	return "关闭"
}
