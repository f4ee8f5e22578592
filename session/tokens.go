package session

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/richinex/tagloop/llm"
)

var (
	encoder     *tiktoken.Tiktoken
	encoderOnce sync.Once
)

func tokenEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		// cl100k_base is close enough for every supported source
		if tk, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoder = tk
		}
	})
	return encoder
}

// EstimateTokens approximates the prompt size of msgs. When the tokenizer
// tables are unavailable it falls back to a character heuristic: one token
// per four ASCII bytes and one per CJK rune.
func EstimateTokens(msgs []llm.ChatMessage) int {
	if enc := tokenEncoder(); enc != nil {
		total := 0
		for _, m := range msgs {
			total += len(enc.Encode(m.Content, nil, nil))
		}
		return total
	}
	return estimateByRunes(msgs)
}

func estimateByRunes(msgs []llm.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		ascii, wide := 0, 0
		for _, r := range m.Content {
			if r < utf8.RuneSelf {
				ascii++
			} else {
				wide++
			}
		}
		total += ascii/4 + wide
	}
	return total
}
