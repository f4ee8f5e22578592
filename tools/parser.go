// Tool tag grammar.
//
// Information Hiding:
// - Regular expressions for every tag hidden here
// - Grouping of inserts and deletes into one edit per file hidden
// - Callers get invocations already in dispatch order

package tools

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/richinex/tagloop/internal/markup"
)

var (
	cachePattern    = regexp.MustCompile(`(?s)<cache>(.*?)</cache>`)
	writePattern    = regexp.MustCompile(`(?s)<write\s+path="([^"]+)"[^>]*>\n?(.*?)\n?</write>`)
	insertPattern   = regexp.MustCompile(`<insert\s+path="([^"]+)"\s+line=([0-9]+)\s*>\n?([\s\S]*?)\s*</insert>`)
	deletePattern   = regexp.MustCompile(`<delete\s+path="([^"]+)"\s+line=\(\s*(\d+)\s*,\s*(\d+)\s*\)\s*>`)
	searchPattern   = regexp.MustCompile(`<search\s+([^>]+)\s*>`)
	fetchPattern    = regexp.MustCompile(`<fetch\s+([^>]+)\s*>`)
	debuggerPattern = regexp.MustCompile(`(?s)<debugger\s+ref=(True|False)\s*>(.*?)</debugger>`)
)

// Parse extracts every tool invocation from a model reply. Text up to the
// last </think> is ignored. The result is ordered by Kinds, and within a
// kind by position in the text. Malformed tags are skipped.
func Parse(text string) []Invocation {
	text = markup.StripThink(text)

	var out []Invocation
	for _, kind := range Kinds {
		out = append(out, parseKind(kind, text)...)
	}
	return out
}

func parseKind(kind Kind, text string) []Invocation {
	switch kind {
	case KindCache:
		var out []Invocation
		for _, m := range cachePattern.FindAllStringSubmatch(text, -1) {
			out = append(out, Invocation{Kind: KindCache, Payload: strings.TrimSpace(m[1])})
		}
		return out
	case KindWrite:
		var out []Invocation
		for _, m := range writePattern.FindAllStringSubmatch(text, -1) {
			out = append(out, Invocation{Kind: KindWrite, Payload: WriteArgs{
				Filename: strings.TrimSpace(m[1]),
				Code:     strings.TrimSpace(m[2]),
			}})
		}
		return out
	case KindEdit:
		return parseEdits(text)
	case KindRun, KindTest, KindSummary:
		if strings.Contains(text, "<"+string(kind)+">") {
			return []Invocation{{Kind: kind}}
		}
		return nil
	case KindDebugger:
		m := debuggerPattern.FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		return []Invocation{{Kind: KindDebugger, Payload: DebugArgs{
			LoadReference: m[1] == "True",
			Description:   strings.TrimSpace(m[2]),
		}}}
	case KindSearch:
		return parseArgument(KindSearch, searchPattern, text)
	case KindFetch:
		return parseArgument(KindFetch, fetchPattern, text)
	}
	return nil
}

func parseArgument(kind Kind, pattern *regexp.Regexp, text string) []Invocation {
	var out []Invocation
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		out = append(out, Invocation{Kind: kind, Payload: strings.TrimSpace(m[1])})
	}
	return out
}

// parseEdits groups every insert and delete by file, keeping the order in
// which each file first appears.
func parseEdits(text string) []Invocation {
	var order []string
	edits := map[string]*EditArgs{}
	get := func(path string) *EditArgs {
		e, ok := edits[path]
		if !ok {
			e = &EditArgs{Filename: path}
			edits[path] = e
			order = append(order, path)
		}
		return e
	}

	for _, m := range insertPattern.FindAllStringSubmatch(text, -1) {
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		e := get(strings.TrimSpace(m[1]))
		e.Inserts = append(e.Inserts, Insertion{Line: line, Text: m[3]})
	}
	for _, m := range deletePattern.FindAllStringSubmatch(text, -1) {
		start, err1 := strconv.Atoi(m[2])
		end, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil {
			continue
		}
		e := get(strings.TrimSpace(m[1]))
		e.Deletes = append(e.Deletes, LineRange{Start: start, End: end})
	}

	out := make([]Invocation, 0, len(order))
	for _, path := range order {
		out = append(out, Invocation{Kind: KindEdit, Payload: *edits[path]})
	}
	return out
}
