package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Transcript is the persisted form of a conversation: its messages plus the
// per-session prompt and tool switches.
type Transcript struct {
	Messages       []Message       `json:"messages"`
	PromptSettings map[string]bool `json:"prompt_settings"`
	ToolSettings   map[string]bool `json:"tool_settings"`
}

// NewTranscript returns an empty transcript with initialised settings maps.
func NewTranscript() Transcript {
	return Transcript{
		Messages:       []Message{},
		PromptSettings: map[string]bool{},
		ToolSettings:   map[string]bool{},
	}
}

// UnmarshalJSON accepts both the object form and the legacy bare array of
// messages. Legacy documents get empty settings maps.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return fmt.Errorf("failed to decode legacy history: %w", err)
		}
		*t = NewTranscript()
		t.Messages = msgs
		return nil
	}

	type plain Transcript
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}
	*t = Transcript(p)
	t.normalize()
	return nil
}

func (t *Transcript) normalize() {
	if t.Messages == nil {
		t.Messages = []Message{}
	}
	if t.PromptSettings == nil {
		t.PromptSettings = map[string]bool{}
	}
	if t.ToolSettings == nil {
		t.ToolSettings = map[string]bool{}
	}
}

// Clone returns a deep copy.
func (t Transcript) Clone() Transcript {
	out := Transcript{
		Messages:       make([]Message, len(t.Messages)),
		PromptSettings: make(map[string]bool, len(t.PromptSettings)),
		ToolSettings:   make(map[string]bool, len(t.ToolSettings)),
	}
	for i, m := range t.Messages {
		out.Messages[i] = m.Clone()
	}
	for k, v := range t.PromptSettings {
		out.PromptSettings[k] = v
	}
	for k, v := range t.ToolSettings {
		out.ToolSettings[k] = v
	}
	return out
}
