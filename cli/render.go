// Terminal rendering for the chat loop.
//
// Information Hiding:
// - Colour profile detection hidden behind a lipgloss renderer bound to the writer
// - Think/content interleaving and separators hidden

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/turn"
)

const (
	separator   = "------------------------------------------------------"
	inputPrompt = "请输入内容（输入/help查看指令）: "
)

// Renderer writes the chat stream and system notices to a terminal.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer

	think  lipgloss.Style
	rule   lipgloss.Style
	input  lipgloss.Style
	notice lipgloss.Style
	status lipgloss.Style

	sawThink   bool
	sawContent bool
}

// NewRenderer creates a renderer. Colours are used only when out is a
// terminal that supports them.
func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	return &Renderer{
		out:    out,
		think:  r.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		rule:   r.NewStyle().Foreground(lipgloss.Color("12")),
		input:  r.NewStyle().Foreground(lipgloss.Color("9")),
		notice: r.NewStyle().Foreground(lipgloss.Color("11")),
		status: r.NewStyle().Faint(true),
	}
}

// paint styles every line on its own so multi-line text is not padded to a
// block.
func paint(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) write(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.out, s)
}

// Prompt asks for the next line of input.
func (r *Renderer) Prompt() {
	r.write(paint(r.input, separator) + "\n" + inputPrompt)
}

// StreamStarted opens a reply block.
func (r *Renderer) StreamStarted() {
	r.mu.Lock()
	r.sawThink, r.sawContent = false, false
	r.mu.Unlock()
	r.write("\nAI回复: \n" + paint(r.rule, separator) + "\n")
}

// StreamChunk prints reasoning in grey and content as is.
func (r *Renderer) StreamChunk(chunk llm.StreamChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chunk.Reasoning != "" {
		r.sawThink = true
		io.WriteString(r.out, paint(r.think, chunk.Reasoning))
	}
	if chunk.Content != "" {
		if !r.sawContent && r.sawThink {
			io.WriteString(r.out, "\n\n")
		}
		r.sawContent = true
		io.WriteString(r.out, chunk.Content)
	}
}

// StreamFinished closes the reply block with the elapsed time.
func (r *Renderer) StreamFinished(elapsed time.Duration, _ error) {
	r.write("\n" + paint(r.rule, fmt.Sprintf("耗时%.2f秒\n%s", elapsed.Seconds(), separator)) + "\n")
}

// SystemNotice prints a line from the loop, a tool or a command.
func (r *Renderer) SystemNotice(text string) {
	r.write(paint(r.notice, text) + "\n")
}

// TurnStatus prints the session, token estimate and skip count.
func (r *Renderer) TurnStatus(s turn.Status) {
	max := "∞"
	if s.MaxSkips >= 0 {
		max = strconv.Itoa(s.MaxSkips)
	}
	line := fmt.Sprintf("会话 %s | 约 %d tokens | 连续跳过 %d/%s", s.Session, s.Tokens, s.Skips, max)
	r.write(paint(r.status, line) + "\n")
}

// Verify Renderer implements turn.Observer
var _ turn.Observer = (*Renderer)(nil)
