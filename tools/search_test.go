package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const searchResponse = `{
  "items": [
    {"title": "Go", "link": "https://go.dev", "snippet": "The Go language"},
    {"title": "Effective Go", "link": "https://go.dev/doc/effective_go", "snippet": "Tips"}
  ]
}`

func TestGoogleSearchParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "c" || q.Get("q") != "golang" || q.Get("num") != "5" {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	g := NewGoogleSearch(func() (string, string) { return "k", "c" }, 0, time.Second).WithEndpoint(srv.URL)
	items, err := g.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Equal(t, []SearchItem{
		{Title: "Go", Link: "https://go.dev", Snippet: "The Go language"},
		{Title: "Effective Go", Link: "https://go.dev/doc/effective_go", Snippet: "Tips"},
	}, items)
}

func TestGoogleSearchNotConfigured(t *testing.T) {
	g := NewGoogleSearch(func() (string, string) { return "", "c" }, 5, time.Second)
	_, err := g.Search(context.Background(), "x")
	require.ErrorIs(t, err, ErrSearchNotConfigured)
	require.ErrorIs(t, err, ErrCollaboratorUnavailable)
}

func TestGoogleSearchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	g := NewGoogleSearch(func() (string, string) { return "k", "c" }, 5, time.Second).WithEndpoint(srv.URL)
	g.retry = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	items, err := g.Search(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, int32(3), hits.Load())
}

func TestGoogleSearchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	g := NewGoogleSearch(func() (string, string) { return "k", "c" }, 5, time.Second).WithEndpoint(srv.URL)
	g.retry = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	_, err := g.Search(context.Background(), "x")
	require.ErrorIs(t, err, ErrCollaboratorUnavailable)
	require.Contains(t, err.Error(), "API key not valid")
	require.Equal(t, int32(1), hits.Load())
}

type stubSearcher struct {
	items []SearchItem
	err   error
}

func (s stubSearcher) Search(ctx context.Context, query string) ([]SearchItem, error) {
	return s.items, s.err
}

func TestSearchToolListing(t *testing.T) {
	cache := &CacheCell{}
	results := &SearchResults{}
	tool := NewSearchTool(stubSearcher{items: []SearchItem{{Title: "Go", Link: "https://go.dev"}}}, cache, results)

	res := tool.Execute(context.Background(), Invocation{Kind: KindSearch, Payload: "go"}, Batch{})
	require.NoError(t, res.Err)
	require.True(t, res.Skip)
	require.Equal(t, "搜索结果：\n1. Go", res.UserMessage)
	require.Equal(t, "已经获取以下搜索结果（标题 + URL）：\n1. 标题：Go\n   URL：https://go.dev\n请使用获取网页工具来获取具体内容。", res.ModelFeedback)
	require.Equal(t, res.ModelFeedback, cache.Get())

	item, ok := results.At(1)
	require.True(t, ok)
	require.Equal(t, "https://go.dev", item.Link)
	_, ok = results.At(2)
	require.False(t, ok)
}

func TestSearchToolFailures(t *testing.T) {
	res := NewSearchTool(stubSearcher{err: ErrSearchNotConfigured}, &CacheCell{}, nil).
		Execute(context.Background(), Invocation{Kind: KindSearch, Payload: "go"}, Batch{})
	require.Equal(t, "搜索失败: 未配置API密钥", res.UserMessage)
	require.Equal(t, "搜索失败，用户没有配置API或CSE ID，不要再尝试搜索，直到用户再次要求。", res.ModelFeedback)
	require.True(t, res.Skip)

	boom := Errorf(ErrTransportFault, "connection reset")
	res = NewSearchTool(stubSearcher{err: boom}, &CacheCell{}, nil).
		Execute(context.Background(), Invocation{Kind: KindSearch, Payload: "go"}, Batch{})
	require.Equal(t, "搜索失败: connection reset", res.UserMessage)
	require.Contains(t, res.ModelFeedback, "搜索遇到错误 connection reset\n")
	require.Contains(t, res.ModelFeedback, "不要使用搜索")
	require.True(t, errors.Is(res.Err, ErrTransportFault))
}

func TestRetryPolicyStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{Attempts: 5, BaseDelay: time.Hour}.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Errorf(ErrTransportFault, "down")
	})
	require.ErrorIs(t, err, ErrTransportFault)
	require.Equal(t, 1, calls)
}
