// Summary tool.
//
// Information Hiding:
// - Summarizer prompt lookup and sub-model call hidden in Summarizer
// - Think-block stripping of the sub-model reply hidden

package tools

import (
	"context"
	"fmt"

	"github.com/richinex/tagloop/internal/markup"
	"github.com/richinex/tagloop/llm"
)

// SummaryPrefix marks cached text produced by the summarizer.
const SummaryPrefix = "由代理总结AI总结的信息："

// Summarizer condenses cached text with the active model.
type Summarizer struct {
	clients *llm.Holder
	prompt  func() (string, error)
}

// NewSummarizer creates a summarizer. prompt returns the summarizer
// instructions and is read on every call so edits to the prompt file apply.
func NewSummarizer(clients *llm.Holder, prompt func() (string, error)) *Summarizer {
	return &Summarizer{clients: clients, prompt: prompt}
}

// Summarize returns the condensed content with think blocks removed.
func (s *Summarizer) Summarize(ctx context.Context, content string) (string, error) {
	client, err := s.clients.Get()
	if err != nil {
		return "", Errorf(ErrCollaboratorUnavailable, "%v", err)
	}
	prompt, err := s.prompt()
	if err != nil {
		return "", Errorf(ErrCollaboratorUnavailable, "failed to read summarizer prompt: %v", err)
	}
	reply, err := client.Chat(ctx, []llm.ChatMessage{llm.UserMessage(prompt + content)})
	if err != nil {
		return "", Errorf(ErrTransportFault, "%v", err)
	}
	return markup.StripThink(reply), nil
}

// SummarizeCache summarizes the cache in place and returns the summary.
func (s *Summarizer) SummarizeCache(ctx context.Context, cache *CacheCell) (string, error) {
	content := cache.Get()
	if content == "" {
		return "", Errorf(ErrNotFound, "没有可总结的缓存内容")
	}
	res, err := s.Summarize(ctx, content)
	if err != nil {
		return "", err
	}
	cache.Set(SummaryPrefix + res)
	return res, nil
}

// SummaryTool summarizes the cache.
type SummaryTool struct {
	summarizer *Summarizer
	cache      *CacheCell
}

// NewSummaryTool creates a summary tool.
func NewSummaryTool(summarizer *Summarizer, cache *CacheCell) *SummaryTool {
	return &SummaryTool{summarizer: summarizer, cache: cache}
}

// Kind returns KindSummary.
func (t *SummaryTool) Kind() Kind { return KindSummary }

// Execute summarizes the cache. It always asks for another turn.
func (t *SummaryTool) Execute(ctx context.Context, _ Invocation, _ Batch) Result {
	if t.cache.Empty() {
		return Result{
			UserMessage: "没有可总结的缓存内容",
			Skip:        true,
			Err:         Errorf(ErrNotFound, "没有可总结的缓存内容"),
		}
	}
	res, err := t.summarizer.SummarizeCache(ctx, t.cache)
	if err != nil {
		return Result{
			UserMessage:   "总结失败: " + err.Error(),
			ModelFeedback: fmt.Sprintf("总结失败 %v\n直到用户再次要求之前，不要再使用总结工具。", err),
			Skip:          true,
			Err:           err,
		}
	}
	return Result{
		UserMessage:   "总结已完成",
		ModelFeedback: "总结子AI系统的输出: " + res,
		Skip:          true,
	}
}
