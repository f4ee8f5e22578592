// Package model provides domain types shared across packages.
package model

import (
	"fmt"
	"slices"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "system":
		return RoleSystem, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Provenance tags. Reload operations remove every message carrying a tag and
// re-insert fresh ones at the head of the history.
const (
	TagPrompt = "prompt"
	TagFile   = "file"
	TagCode   = "code"
	TagTool   = "tool"
)

// Message is one entry of a conversation.
// ForModel and ForUser may diverge: raw file contents go to the model only,
// while the user sees a short notice.
type Message struct {
	Role     Role     `json:"role"`
	ForModel string   `json:"for_model"`
	ForUser  string   `json:"for_user"`
	Think    string   `json:"think"`
	Tags     []string `json:"tags"`
}

// NewMessage creates a message with the given tags.
func NewMessage(role Role, forModel, forUser string, tags ...string) Message {
	return Message{
		Role:     role,
		ForModel: forModel,
		ForUser:  forUser,
		Tags:     tags,
	}
}

// HasTag reports whether the message carries tag.
func (m Message) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// Clone returns a copy that shares no slice storage with m.
func (m Message) Clone() Message {
	if m.Tags != nil {
		m.Tags = slices.Clone(m.Tags)
	}
	return m
}
