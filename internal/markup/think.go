// Package markup provides helpers for cleaning model output before it is
// parsed or stored.
//
// Reasoning models frequently inline their chain of thought in the content
// stream as <think>...</think>. Tool parsing and history storage must only see
// the answer part, while the reasoning is kept separately for display.
package markup

import (
	"regexp"
	"strings"
)

const closeThink = "</think>"

var thinkBlock = regexp.MustCompile(`(?s).*?</think>`)

// StripThink removes everything up to and including every </think> marker.
// Text without the marker is returned unchanged.
func StripThink(s string) string {
	if !strings.Contains(s, closeThink) {
		return s
	}
	return thinkBlock.ReplaceAllString(s, "")
}

// SplitThink separates an inline reasoning block from the answer.
// The reasoning is everything before the last </think> with a leading <think>
// removed; both parts are whitespace trimmed.
func SplitThink(s string) (think, content string) {
	idx := strings.LastIndex(s, closeThink)
	if idx < 0 {
		return "", s
	}
	think = strings.TrimSpace(s[:idx])
	think = strings.TrimSpace(strings.TrimPrefix(think, "<think>"))
	content = strings.TrimSpace(s[idx+len(closeThink):])
	return think, content
}

// Truncate shortens s to at most max runes, appending suffix when cut.
func Truncate(s string, max int, suffix string) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + suffix
}
