// Package command implements the slash-command tree of the chat loop.
//
// Information Hiding:
// - Command paths indexed in a radix tree; the longest registered path wins
// - Intermediate groups ("/ai", "/api") exist only as prefixes
// - Handler panics and errors folded into a user notice
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/richinex/tagloop/internal/dsa"
)

const (
	msgBadFormat    = "无效命令格式，必须以/开头"
	msgEmpty        = "请输入有效命令"
	msgInvalid      = "请输入有效命令（使用 /help 查看可用命令）"
	msgCommandError = "命令执行错误: "
	rootDescription = "根命令"
)

// Result is what a command produced. ForModel, when set, is injected into
// the conversation as a system message.
type Result struct {
	ForUser  string
	ForModel string
	Exit     bool
}

// Handler runs a command with the arguments left after its path.
type Handler func(ctx context.Context, args []string) (Result, error)

// Command is one leaf of the tree.
type Command struct {
	// Path is the slash path, e.g. "/ai/set".
	Path        string
	Description string
	Usage       string
	Handler     Handler
}

// Registry holds the command tree.
type Registry struct {
	trie *dsa.Trie[*Command]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trie: dsa.NewTrie[*Command]()}
}

// Register adds cmd. Registering a path twice is an error.
func (r *Registry) Register(cmd Command) error {
	path := "/" + strings.Trim(cmd.Path, "/")
	if path == "/" {
		return fmt.Errorf("invalid command path %q", cmd.Path)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s has no handler", path)
	}
	if _, ok := r.trie.Search(path); ok {
		return fmt.Errorf("command %s already registered", path)
	}
	cmd.Path = path
	r.trie.Insert(path, &cmd)
	return nil
}

// MustRegister registers every command and panics on the first error.
func (r *Registry) MustRegister(cmds ...Command) *Registry {
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Paths returns every registered path in lexical order.
func (r *Registry) Paths() []string {
	return r.trie.Keys()
}

// Handle parses a slash line and runs the matching command.
func (r *Registry) Handle(ctx context.Context, input string) (res Result) {
	if !strings.HasPrefix(input, "/") {
		return Result{ForUser: msgBadFormat}
	}
	parts := strings.Fields(input[1:])
	if len(parts) == 0 {
		return Result{ForUser: msgEmpty}
	}

	_, cmd, used, ok := r.trie.Resolve(parts)
	if !ok {
		return Result{ForUser: msgInvalid}
	}

	defer func() {
		if p := recover(); p != nil {
			res = Result{ForUser: fmt.Sprintf("%s%v", msgCommandError, p)}
		}
	}()
	out, err := cmd.Handler(ctx, parts[used:])
	if err != nil {
		return Result{ForUser: msgCommandError + err.Error()}
	}
	return out
}

// Help renders the help text for a command path given as segments. An
// empty path describes the root.
func (r *Registry) Help(segments []string) string {
	path := ""
	for i, seg := range segments {
		next := path + "/" + seg
		if _, ok := r.trie.Search(next); !ok && len(r.trie.Children(next)) == 0 {
			return "未找到命令: " + strings.Join(segments[:i+1], "/")
		}
		path = next
	}

	lines := []string{}
	if path == "" {
		lines = append(lines, "命令: /", "描述: "+rootDescription)
	} else if cmd, ok := r.trie.Search(path); ok {
		lines = append(lines, "命令: "+path, "描述: "+cmd.Description)
		if cmd.Usage != "" {
			lines = append(lines, "用法: "+cmd.Usage)
		}
	} else {
		name := path[strings.LastIndex(path, "/")+1:]
		lines = append(lines, "命令: "+path, "描述: "+groupDescription(name))
	}

	children := r.trie.Children(path)
	if len(children) > 0 {
		lines = append(lines, "\n可用子命令:")
		for _, name := range children {
			lines = append(lines, fmt.Sprintf("  %-15s %s", name, r.describe(path+"/"+name)))
		}
	}
	return strings.Join(lines, "\n")
}

func (r *Registry) describe(path string) string {
	if cmd, ok := r.trie.Search(path); ok {
		return cmd.Description
	}
	return groupDescription(path[strings.LastIndex(path, "/")+1:])
}

func groupDescription(name string) string {
	return name + "命令组"
}
