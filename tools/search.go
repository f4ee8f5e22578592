// Web search tool.
//
// Information Hiding:
// - Google Custom Search request and response format hidden in GoogleSearch
// - Credentials read at call time so /api edits apply immediately
// - Anti-retry guidance for the model hidden in the executor

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	googleSearchEndpoint = "https://www.googleapis.com/customsearch/v1"
	// DefaultSearchResults is the number of hits requested per search.
	DefaultSearchResults = 5
)

// ErrSearchNotConfigured is returned when the API key or CSE ID is missing.
var ErrSearchNotConfigured = Errorf(ErrCollaboratorUnavailable, "未配置API密钥")

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchItem, error)
}

// GoogleSearch queries the Google Custom Search JSON API.
type GoogleSearch struct {
	client      *http.Client
	endpoint    string
	credentials func() (apiKey, cseID string)
	results     int
	retry       RetryPolicy
}

// NewGoogleSearch creates a searcher. credentials is called on every search.
func NewGoogleSearch(credentials func() (apiKey, cseID string), results int, timeout time.Duration) *GoogleSearch {
	if results <= 0 {
		results = DefaultSearchResults
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleSearch{
		client:      &http.Client{Timeout: timeout},
		endpoint:    googleSearchEndpoint,
		credentials: credentials,
		results:     results,
	}
}

// WithEndpoint overrides the API endpoint.
func (g *GoogleSearch) WithEndpoint(endpoint string) *GoogleSearch {
	g.endpoint = endpoint
	return g
}

// Search returns up to the configured number of results.
func (g *GoogleSearch) Search(ctx context.Context, query string) ([]SearchItem, error) {
	apiKey, cseID := g.credentials()
	if apiKey == "" || cseID == "" {
		return nil, ErrSearchNotConfigured
	}

	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("cx", cseID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(g.results))

	var body []byte
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		body, err = g.get(ctx, g.endpoint+"?"+params.Encode())
		return err
	})
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return nil, Errorf(ErrTransportFault, "%s", msg.String())
	}
	var items []SearchItem
	parsed.Get("items").ForEach(func(_, item gjson.Result) bool {
		items = append(items, SearchItem{
			Title:   item.Get("title").String(),
			Link:    item.Get("link").String(),
			Snippet: item.Get("snippet").String(),
		})
		return true
	})
	return items, nil
}

func (g *GoogleSearch) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Errorf(ErrInvalidArgument, "failed to create request: %v", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, Errorf(ErrTransportFault, "request failed: %v", redactKey(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Errorf(ErrTransportFault, "failed to read response body: %v", err)
	}
	if resp.StatusCode >= 500 {
		return nil, Errorf(ErrTransportFault, "HTTP error: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = resp.Status
		}
		// client errors (bad key, quota) do not improve on retry
		return nil, Errorf(ErrCollaboratorUnavailable, "HTTP error: %s", msg)
	}
	return body, nil
}

// redactKey drops the query string, which carries the API key, from URL
// errors.
func redactKey(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			u.RawQuery = ""
			return fmt.Errorf("%s %s: %w", urlErr.Op, u.String(), urlErr.Err)
		}
	}
	return err
}

// SearchTool runs a web search and caches the listing.
type SearchTool struct {
	searcher Searcher
	cache    *CacheCell
	results  *SearchResults
}

// NewSearchTool creates a search tool.
func NewSearchTool(searcher Searcher, cache *CacheCell, results *SearchResults) *SearchTool {
	return &SearchTool{searcher: searcher, cache: cache, results: results}
}

// Kind returns KindSearch.
func (t *SearchTool) Kind() Kind { return KindSearch }

// Execute searches for the tag argument. It always asks for another turn.
func (t *SearchTool) Execute(ctx context.Context, inv Invocation, _ Batch) Result {
	items, err := t.searcher.Search(ctx, inv.Text())
	switch {
	case errors.Is(err, ErrSearchNotConfigured):
		return Result{
			UserMessage:   "搜索失败: 未配置API密钥",
			ModelFeedback: "搜索失败，用户没有配置API或CSE ID，不要再尝试搜索，直到用户再次要求。",
			Skip:          true,
			Err:           err,
		}
	case err != nil:
		return Result{
			UserMessage:   "搜索失败: " + err.Error(),
			ModelFeedback: "搜索遇到错误 " + err.Error() + "\n根据错误提示，如果是你可以修复的问题，尝试修复，否则直到用户再次请求，不要使用搜索。",
			Skip:          true,
			Err:           err,
		}
	}

	if t.results != nil {
		t.results.Set(items)
	}

	user := []string{"搜索结果："}
	model := []string{"已经获取以下搜索结果（标题 + URL）："}
	for i, item := range items {
		user = append(user, fmt.Sprintf("%d. %s", i+1, item.Title))
		model = append(model, fmt.Sprintf("%d. 标题：%s\n   URL：%s", i+1, item.Title, item.Link))
	}
	model = append(model, "请使用获取网页工具来获取具体内容。")

	listing := strings.Join(model, "\n")
	if t.cache != nil {
		t.cache.Set(listing)
	}
	return Result{
		UserMessage:   strings.Join(user, "\n"),
		ModelFeedback: listing,
		Skip:          true,
	}
}
