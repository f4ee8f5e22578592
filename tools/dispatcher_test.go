package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/richinex/tagloop/llm"
)

// recordingTool records invocations and returns a fixed result.
type recordingTool struct {
	kind   Kind
	result Result
	calls  *[]Kind
	args   []Invocation
}

func (r *recordingTool) Kind() Kind { return r.kind }

func (r *recordingTool) Execute(ctx context.Context, inv Invocation, batch Batch) Result {
	*r.calls = append(*r.calls, r.kind)
	r.args = append(r.args, inv)
	return r.result
}

type observedCall struct {
	kind string
	err  error
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observedCall
}

func (o *recordingObserver) ToolExecuted(kind string, err error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedCall{kind, err})
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	var calls []Kind
	r := NewRegistry()
	require.NoError(t, r.Register(&recordingTool{kind: KindRun, calls: &calls}))
	require.Error(t, r.Register(&recordingTool{kind: KindRun, calls: &calls}))

	require.Panics(t, func() {
		r.MustRegister(&recordingTool{kind: KindRun, calls: &calls})
	})
}

func TestRegistryKindsInDispatchOrder(t *testing.T) {
	var calls []Kind
	r := NewRegistry().MustRegister(
		&recordingTool{kind: KindSummary, calls: &calls},
		&recordingTool{kind: KindCache, calls: &calls},
		&recordingTool{kind: KindTest, calls: &calls},
	)
	require.Equal(t, []Kind{KindCache, KindTest, KindSummary}, r.Kinds())
}

func TestDispatcherRunsInOrderAndJoinsOutputs(t *testing.T) {
	var calls []Kind
	r := NewRegistry().MustRegister(
		&recordingTool{kind: KindRun, calls: &calls, result: Result{UserMessage: "ran", ModelFeedback: "Run output:\nok"}},
		&recordingTool{kind: KindCache, calls: &calls, result: Result{UserMessage: "信息已缓存"}},
		&recordingTool{kind: KindSearch, calls: &calls, result: Result{UserMessage: "searched", ModelFeedback: "results", Skip: true}},
	)
	flags := &Flags{}
	observer := &recordingObserver{}
	d := NewDispatcher(r, flags).WithObserver(observer)

	out := d.Process(context.Background(), "<search go> <run> <cache>x</cache>")
	require.Equal(t, []Kind{KindCache, KindRun, KindSearch}, calls)
	require.Equal(t, "信息已缓存\nran\nsearched", out.UserMessage)
	require.Equal(t, "Run output:\nok\nresults", out.ModelFeedback)
	require.True(t, out.Skip)
	require.True(t, flags.Skip())
	require.Equal(t, 3, out.Executed())
	require.Len(t, observer.calls, 3)

	// a reply without skipping tools clears the flag
	out = d.Process(context.Background(), "<run>")
	require.False(t, out.Skip)
	require.False(t, flags.Skip())
}

func TestDispatcherSkipsUnknownAndDisabledKinds(t *testing.T) {
	var calls []Kind
	r := NewRegistry().MustRegister(
		&recordingTool{kind: KindRun, calls: &calls, result: Result{UserMessage: "ran"}},
		&recordingTool{kind: KindTest, calls: &calls, result: Result{UserMessage: "tested"}},
	)
	d := NewDispatcher(r, nil).WithEnabled(func(k Kind) bool { return k != KindTest })

	out := d.Process(context.Background(), "<run> <test> <summary> <made-up tag>")
	require.Equal(t, []Kind{KindRun}, calls)
	require.Equal(t, "ran", out.UserMessage)
}

func TestDispatcherRestrict(t *testing.T) {
	var calls []Kind
	r := NewRegistry().MustRegister(
		&recordingTool{kind: KindRun, calls: &calls},
		&recordingTool{kind: KindTest, calls: &calls, result: Result{Skip: true}},
	)
	outer := &Flags{}
	inner := &Flags{}
	d := NewDispatcher(r, outer).Restrict(inner, KindTest)

	out := d.Process(context.Background(), "<run> <test>")
	require.Equal(t, []Kind{KindTest}, calls)
	require.True(t, out.Skip)
	require.True(t, inner.Skip())
	require.False(t, outer.Skip())
}

func TestDispatcherPassesHasSummary(t *testing.T) {
	var calls []Kind
	fetch := &recordingTool{kind: KindFetch, calls: &calls}
	r := NewRegistry().MustRegister(fetch)

	batchSeen := []Batch{}
	seen := executorFunc{kind: KindCache, fn: func(b Batch) { batchSeen = append(batchSeen, b) }}
	r.MustRegister(seen, executorFunc{kind: KindSummary, fn: func(Batch) {}})

	d := NewDispatcher(r, nil)
	d.Process(context.Background(), "<cache>x</cache><summary>")
	d.Process(context.Background(), "<cache>x</cache>")
	require.Equal(t, []Batch{{HasSummary: true}, {HasSummary: false}}, batchSeen)

	// a disabled summary does not count
	batchSeen = nil
	d.WithEnabled(func(k Kind) bool { return k != KindSummary })
	d.Process(context.Background(), "<cache>x</cache><summary>")
	require.Equal(t, []Batch{{HasSummary: false}}, batchSeen)
}

type executorFunc struct {
	kind Kind
	fn   func(Batch)
}

func (e executorFunc) Kind() Kind { return e.kind }

func (e executorFunc) Execute(ctx context.Context, inv Invocation, batch Batch) Result {
	e.fn(batch)
	return Result{}
}

func newPageServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != browserUserAgent {
			http.Error(w, "bad agent", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchThenSummaryKeepsPageFromModel(t *testing.T) {
	const secret = "The quick brown fox jumps over the lazy dog"
	srv := newPageServer(t, "<html><body><p>"+secret+"</p></body></html>")

	provider := llm.NewMockProvider("<think>reasoning</think>A fox jumps.")
	clients := llm.NewHolder(llm.NewClient(provider), nil)
	cache := &CacheCell{}
	summarizer := NewSummarizer(clients, func() (string, error) { return "Summarize:\n", nil })

	r := NewRegistry().MustRegister(
		NewFetchTool(NewFetcher(time.Second), cache),
		NewSummaryTool(summarizer, cache),
	)
	d := NewDispatcher(r, &Flags{})

	out := d.Process(context.Background(), "<fetch "+srv.URL+"> <summary>")
	require.NotContains(t, out.ModelFeedback, secret)
	require.Contains(t, out.ModelFeedback, "Web content cached: "+srv.URL)
	require.Contains(t, out.ModelFeedback, "总结子AI系统的输出: A fox jumps.")
	require.Contains(t, out.UserMessage, "成功获取网页内容: "+srv.URL)
	require.Contains(t, out.UserMessage, "总结已完成")
	require.True(t, out.Skip)
	require.Equal(t, SummaryPrefix+"A fox jumps.", cache.Get())

	// the summarizer saw the fetched page
	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "Summarize:\n"+secret, reqs[0][0].Content)
}

func TestFetchWithoutSummaryForwardsPage(t *testing.T) {
	srv := newPageServer(t, "<p>hello</p><script>var x</script>")
	cache := &CacheCell{}
	r := NewRegistry().MustRegister(NewFetchTool(NewFetcher(time.Second), cache))

	out := NewDispatcher(r, nil).Process(context.Background(), "<fetch "+srv.URL+">")
	require.Contains(t, out.ModelFeedback, "网页内容提取: hello")
	require.Equal(t, "hello", cache.Get())
	require.True(t, out.Skip)
}

func TestFetchWithDisabledSummaryForwardsPage(t *testing.T) {
	srv := newPageServer(t, "<p>hello</p>")
	cache := &CacheCell{}
	clients := llm.NewHolder(llm.NewClient(llm.NewMockProvider("unused")), nil)
	r := NewRegistry().MustRegister(
		NewFetchTool(NewFetcher(time.Second), cache),
		NewSummaryTool(NewSummarizer(clients, func() (string, error) { return "", nil }), cache),
	)
	d := NewDispatcher(r, nil).WithEnabled(func(k Kind) bool { return k != KindSummary })

	out := d.Process(context.Background(), "<fetch "+srv.URL+"> <summary>")
	require.Contains(t, out.ModelFeedback, "网页内容提取: hello")
	require.NotContains(t, out.ModelFeedback, "总结子AI系统的输出")
	require.Equal(t, "hello", cache.Get())
}

func TestFetchFailureGivesAntiRetryGuidance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := &CacheCell{}
	cache.Set("kept")
	res := NewFetchTool(NewFetcher(time.Second), cache).Execute(context.Background(),
		Invocation{Kind: KindFetch, Payload: srv.URL}, Batch{})

	require.ErrorIs(t, res.Err, ErrTransportFault)
	require.True(t, strings.HasPrefix(res.UserMessage, "网页获取失败: 网络请求失败"))
	require.Contains(t, res.ModelFeedback, "不要再获取网页")
	require.True(t, res.Skip)
	require.Equal(t, "kept", cache.Get())
}

func TestFetchRejectsNonHTTP(t *testing.T) {
	_, err := NewFetcher(time.Second).Fetch(context.Background(), "file:///etc/passwd")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestExtractText(t *testing.T) {
	page := `<html><head><meta charset="utf-8"><style>p{}</style></head><body>
<header><h1>Site</h1></header>
<nav><p>menu</p></nav>
<article><h2>Title</h2><p>Body <b>bold</b> text</p></article>
<footer><p>footer</p></footer>
</body></html>`
	text, err := ExtractText(page)
	require.NoError(t, err)
	require.Equal(t, "Title Body bold text\nTitle\nBody bold text", text)
}

func TestCapRunes(t *testing.T) {
	require.Equal(t, "你好", capRunes("你好", 2))
	require.Equal(t, "你好...", capRunes("你好世界", 2))
}

func TestSummaryEmptyCache(t *testing.T) {
	summarizer := NewSummarizer(llm.NewHolder(nil, nil), func() (string, error) { return "", nil })
	res := NewSummaryTool(summarizer, &CacheCell{}).Execute(context.Background(), Invocation{Kind: KindSummary}, Batch{})
	require.Equal(t, "没有可总结的缓存内容", res.UserMessage)
	require.True(t, res.Skip)
}

func TestSummaryWithoutClient(t *testing.T) {
	cache := &CacheCell{}
	cache.Set("content")
	summarizer := NewSummarizer(llm.NewHolder(nil, errors.New("deepseek: API key not configured")), func() (string, error) { return "", nil })

	res := NewSummaryTool(summarizer, cache).Execute(context.Background(), Invocation{Kind: KindSummary}, Batch{})
	require.ErrorIs(t, res.Err, ErrCollaboratorUnavailable)
	require.True(t, strings.HasPrefix(res.UserMessage, "总结失败: "))
	require.True(t, res.Skip)
	require.Equal(t, "content", cache.Get())
}

func TestCacheTool(t *testing.T) {
	cache := &CacheCell{}
	res := NewCacheTool(cache).Execute(context.Background(), Invocation{Kind: KindCache, Payload: "note"}, Batch{})
	require.Equal(t, "信息已缓存", res.UserMessage)
	require.Empty(t, res.ModelFeedback)
	require.False(t, res.Skip)
	require.Equal(t, "note", cache.Take())
	require.True(t, cache.Empty())
}

type fakeStarter struct {
	err  error
	args []DebugArgs
}

func (f *fakeStarter) Start(args DebugArgs) error {
	f.args = append(f.args, args)
	return f.err
}

func TestDebuggerTool(t *testing.T) {
	flags := &Flags{}
	starter := &fakeStarter{}
	res := NewDebuggerTool(starter, flags).Execute(context.Background(),
		Invocation{Kind: KindDebugger, Payload: DebugArgs{Description: "fix add"}}, Batch{})
	require.NoError(t, res.Err)
	require.True(t, flags.Occupied())
	require.Equal(t, []DebugArgs{{Description: "fix add"}}, starter.args)

	flags = &Flags{}
	starter = &fakeStarter{err: errors.New("already running")}
	res = NewDebuggerTool(starter, flags).Execute(context.Background(),
		Invocation{Kind: KindDebugger, Payload: DebugArgs{Description: "fix add"}}, Batch{})
	require.ErrorIs(t, res.Err, ErrExecutionFault)
	require.Equal(t, "调试器错误: already running", res.UserMessage)
	require.Equal(t, "failed", res.ModelFeedback)
	require.False(t, flags.Occupied())
}
