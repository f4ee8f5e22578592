// Web page fetch tool.
//
// Information Hiding:
// - HTTP request details (User-Agent, size cap, deadline) hidden in Fetcher
// - HTML main-text extraction hidden in ExtractText
// - has_summary handling hidden in the executor

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Fetch limits.
const (
	DefaultFetchTimeout = 10 * time.Second
	MaxFetchBytes       = 20 * 1024
	MaxFetchRunes       = 5000
	browserUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

var (
	// removed before extraction, with everything inside them
	strippedElements = map[atom.Atom]bool{
		atom.Script: true,
		atom.Style:  true,
		atom.Nav:    true,
		atom.Footer: true,
		atom.Header: true,
		atom.Meta:   true,
	}
	textElements = map[atom.Atom]bool{
		atom.P:       true,
		atom.H1:      true,
		atom.H2:      true,
		atom.H3:      true,
		atom.Article: true,
	}
)

// Fetcher downloads a page and extracts its main text.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a fetcher with a per-call deadline.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{client: &http.Client{}, timeout: timeout}
}

// Fetch returns the main text of the page at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", Errorf(ErrInvalidArgument, "无效的URL: %s", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", Errorf(ErrInvalidArgument, "网络请求失败: %v", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", Errorf(ErrTransportFault, "网络请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Errorf(ErrTransportFault, "网络请求失败: HTTP %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes))
	if err != nil {
		return "", Errorf(ErrTransportFault, "网络请求失败: %v", err)
	}

	text, err := ExtractText(strings.ToValidUTF8(string(body), ""))
	if err != nil {
		return "", Errorf(ErrExecutionFault, "内容解析失败: %v", err)
	}
	return capRunes(text, MaxFetchRunes), nil
}

// ExtractText returns the text of every p, h1, h2, h3 and article element,
// one element per line, skipping script, style, nav, footer, header and meta
// subtrees. Nested matches appear once per matching ancestor.
func ExtractText(page string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", err
	}

	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if strippedElements[n.DataAtom] {
				return
			}
			if textElements[n.DataAtom] {
				blocks = append(blocks, nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(blocks, "\n"), nil
}

// nodeText joins the trimmed, non-empty text nodes under n with spaces.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		case html.ElementNode:
			if strippedElements[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func capRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// PageFetcher downloads page text.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// FetchTool fetches a page into the cache.
type FetchTool struct {
	fetcher PageFetcher
	cache   *CacheCell
}

// NewFetchTool creates a fetch tool.
func NewFetchTool(fetcher PageFetcher, cache *CacheCell) *FetchTool {
	return &FetchTool{fetcher: fetcher, cache: cache}
}

// Kind returns KindFetch.
func (t *FetchTool) Kind() Kind { return KindFetch }

// Execute fetches the page. The page text only reaches the model when the
// same reply did not ask for a summary. It always asks for another turn.
func (t *FetchTool) Execute(ctx context.Context, inv Invocation, batch Batch) Result {
	target := inv.Text()
	content, err := t.fetcher.Fetch(ctx, target)
	if err != nil {
		return Result{
			UserMessage:   "网页获取失败: " + err.Error(),
			ModelFeedback: fmt.Sprintf("网页获取失败 %v\n如果是你可以修复的问题（例如网址错误），尝试修复，否则直到用户再次请求，不要再获取网页。", err),
			Skip:          true,
			Err:           err,
		}
	}

	t.cache.Set(content)
	model := "Web content cached: " + target
	if !batch.HasSummary {
		model += "\n网页内容提取: " + content
	}
	return Result{
		UserMessage:   "成功获取网页内容: " + target,
		ModelFeedback: model,
		Skip:          true,
	}
}
