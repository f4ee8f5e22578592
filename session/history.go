// Package session holds the live conversation state: the History of one
// named session, the project directories it belongs to, and the reload
// operations that keep prompt, reference and code messages current.
//
// Information Hiding:
// - Message storage and tag bookkeeping hidden behind History methods
// - The wire format is model.Transcript; persistence lives in storage
// - The system-message wrapping required by chat APIs happens in ChatMessages
package session

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/model"
)

// NameLayout formats default session names from the local time.
const NameLayout = "2006-01-02_15-04-05"

const (
	systemWrapOpen  = "[系统消息] !该内容由系统根据流程生成! "
	systemWrapClose = "[系统消息结束]"
)

// History is an ordered message log plus the per-session prompt and tool
// switches. It is safe for concurrent use.
type History struct {
	mu             sync.RWMutex
	name           string
	messages       []model.Message
	promptSettings map[string]bool
	toolSettings   map[string]bool
}

// NewHistory creates an empty history named after the current local time.
func NewHistory() *History {
	return NewNamed(time.Now().Format(NameLayout))
}

// NewNamed creates an empty history with the given name.
func NewNamed(name string) *History {
	return &History{
		name:           name,
		messages:       []model.Message{},
		promptSettings: map[string]bool{},
		toolSettings:   map[string]bool{},
	}
}

// FromTranscript builds a history from its persisted form.
func FromTranscript(name string, t model.Transcript) *History {
	t = t.Clone()
	return &History{
		name:           name,
		messages:       t.Messages,
		promptSettings: t.PromptSettings,
		toolSettings:   t.ToolSettings,
	}
}

// Name returns the session name.
func (h *History) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.name
}

// Rename changes the session name.
func (h *History) Rename(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.name = name
}

// Append adds messages at the end.
func (h *History) Append(msgs ...model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.messages = append(h.messages, m.Clone())
	}
}

// Add appends a single message built from its parts.
func (h *History) Add(role model.Role, forModel, forUser string, tags ...string) {
	h.Append(model.NewMessage(role, forModel, forUser, tags...))
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Messages returns a copy of the message log.
func (h *History) Messages() []model.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.Message, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Clone()
	}
	return out
}

// RemoveTagged deletes every message carrying tag and returns how many were
// removed. Untagged messages keep their order.
func (h *History) RemoveTagged(tag string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeTaggedLocked(tag)
}

func (h *History) removeTaggedLocked(tag string) int {
	kept := h.messages[:0]
	removed := 0
	for _, m := range h.messages {
		if m.HasTag(tag) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	// clear the tail so dropped messages can be collected
	for i := len(kept); i < len(h.messages); i++ {
		h.messages[i] = model.Message{}
	}
	h.messages = kept
	return removed
}

// ReplaceTagged removes every message carrying tag and inserts fresh at the
// head, in the given order.
func (h *History) ReplaceTagged(tag string, fresh []model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeTaggedLocked(tag)
	head := make([]model.Message, 0, len(fresh)+len(h.messages))
	for _, m := range fresh {
		head = append(head, m.Clone())
	}
	h.messages = append(head, h.messages...)
}

// ChatMessages converts the history into provider messages using ForModel.
// System messages that follow the first non-system message become user
// messages wrapped in the system-message markers, since most chat APIs only
// accept system prompts at the start. Messages with no model text (notices
// meant for the user only) are left out.
func (h *History) ChatMessages() []llm.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]llm.ChatMessage, 0, len(h.messages))
	leading := true
	for _, m := range h.messages {
		if m.ForModel == "" {
			continue
		}
		if m.Role != model.RoleSystem {
			leading = false
		}
		switch {
		case m.Role == model.RoleSystem && leading:
			out = append(out, llm.SystemMessage(m.ForModel))
		case m.Role == model.RoleSystem:
			out = append(out, llm.UserMessage(WrapSystem(m.ForModel)))
		case m.Role == model.RoleAssistant:
			out = append(out, llm.AssistantMessage(m.ForModel))
		default:
			out = append(out, llm.UserMessage(m.ForModel))
		}
	}
	return out
}

// WrapSystem marks content as generated by the system rather than the user.
func WrapSystem(content string) string {
	return systemWrapOpen + content + systemWrapClose
}

// UserView returns the user-facing text of every message in order.
func (h *History) UserView() []llm.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.ChatMessage, 0, len(h.messages))
	for _, m := range h.messages {
		if strings.TrimSpace(m.ForUser) == "" {
			continue
		}
		out = append(out, llm.ChatMessage{Role: string(m.Role), Content: m.ForUser})
	}
	return out
}

// PromptEnabled reports the switch for a prompt and whether it is known.
func (h *History) PromptEnabled(name string) (enabled, known bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	enabled, known = h.promptSettings[name]
	return enabled, known
}

// SetPromptEnabled sets the switch for a prompt.
func (h *History) SetPromptEnabled(name string, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.promptSettings[name] = enabled
}

// PromptSettings returns a copy of the prompt switches.
func (h *History) PromptSettings() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyFlags(h.promptSettings)
}

// ToolEnabled reports whether a tool kind may run. Tools without an entry are
// enabled.
func (h *History) ToolEnabled(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	enabled, ok := h.toolSettings[name]
	return !ok || enabled
}

// SetToolEnabled sets the switch for a tool kind.
func (h *History) SetToolEnabled(name string, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toolSettings[name] = enabled
}

// ToolSettings returns a copy of the tool switches.
func (h *History) ToolSettings() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyFlags(h.toolSettings)
}

// Transcript returns the persisted form of the history.
func (h *History) Transcript() model.Transcript {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return model.Transcript{
		Messages:       h.messages,
		PromptSettings: h.promptSettings,
		ToolSettings:   h.toolSettings,
	}.Clone()
}

// Clone returns an independent copy with the same name.
func (h *History) Clone() *History {
	return FromTranscript(h.Name(), h.Transcript())
}

// MarshalJSON encodes the history in the session file format.
func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Transcript())
}

// UnmarshalJSON decodes either the object form or a legacy bare array.
func (h *History) UnmarshalJSON(data []byte) error {
	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = t.Messages
	h.promptSettings = t.PromptSettings
	h.toolSettings = t.ToolSettings
	return nil
}

func copyFlags(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Main holds the single active session of the process.
type Main struct {
	mu      sync.Mutex
	history *History
}

// NewMain creates a holder around h.
func NewMain(h *History) *Main {
	return &Main{history: h}
}

// Get returns the active history.
func (m *Main) Get() *History {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

// Swap installs h as the active history and returns the previous one.
func (m *Main) Swap(h *History) *History {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.history
	m.history = h
	return old
}
