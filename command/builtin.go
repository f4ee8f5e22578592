package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/tagloop/config"
	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/observability"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/storage"
	"github.com/richinex/tagloop/tools"
	"github.com/richinex/tagloop/turn"
)

// Env is everything the builtin commands act on. Optional collaborators may
// be nil; the commands that need them report that they are unavailable.
type Env struct {
	Settings *config.Settings
	Clients  *llm.Holder
	// Connect builds a client for the current settings.
	Connect func() (*llm.Client, error)

	Sessions  *session.Main
	Store     storage.SessionStore
	PromptDir session.PromptDir
	Reloader  turn.Reloader

	Cache      *tools.CacheCell
	Results    *tools.SearchResults
	Searcher   tools.Searcher
	Fetcher    tools.PageFetcher
	Summarizer *tools.Summarizer

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Builtins returns a registry holding every builtin command.
func Builtins(env *Env) *Registry {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	r := NewRegistry()
	b := &builtins{env: env, registry: r}
	r.MustRegister(
		Command{Path: "/ai/list", Description: "检查预设的可选AI加载源", Handler: b.aiList},
		Command{Path: "/ai/set", Description: "设置启用的AI加载源", Usage: "/ai set <AI名>", Handler: b.aiSet},
		Command{Path: "/model/list", Description: "检查当前模型", Handler: b.modelList},
		Command{Path: "/model/set", Description: "设置当前启用模型", Usage: "/model set <模型名>", Handler: b.modelSet},
		Command{Path: "/api/google", Description: "设置谷歌搜索API", Usage: "/api google <API>", Handler: b.apiGoogle},
		Command{Path: "/api/google_cse", Description: "设置谷歌搜索CSE ID", Usage: "/api google_cse <CSE ID>", Handler: b.apiGoogleCSE},
		Command{Path: "/api/openai", Description: "设置OpenAI模型API", Usage: "/api openai <API>", Handler: b.apiKey("openai", "OpenAI")},
		Command{Path: "/api/siliconflow", Description: "设置SiliconFlow模型API", Usage: "/api siliconflow <API>", Handler: b.apiKey("siliconflow", "SiliconFlow")},
		Command{Path: "/api/deepseek", Description: "设置DeepSeek模型API", Usage: "/api deepseek <API>", Handler: b.apiKey("deepseek", "DeepSeek")},
		Command{Path: "/load", Description: "加载历史数据，覆盖当前对话历史", Usage: "/load <会话名>", Handler: b.load},
		Command{Path: "/submit", Description: "将缓存的信息提交给AI", Handler: b.submit},
		Command{Path: "/summary", Description: "总结缓存中的信息", Handler: b.summary},
		Command{Path: "/cache", Description: "查看缓存内容", Handler: b.cache},
		Command{Path: "/file", Description: "读取本地文件到缓存", Usage: "/file <文件路径>", Handler: b.file},
		Command{Path: "/fetch", Description: "网页内容获取", Usage: "/fetch <URL或搜索结果序号>", Handler: b.fetch},
		Command{Path: "/search", Description: "通过Google搜索内容", Usage: "/search <查询关键词>", Handler: b.search},
		Command{Path: "/prompt/list", Description: "查看提示词启用状态", Handler: b.promptList},
		Command{Path: "/prompt/on", Description: "启用提示词", Usage: "/prompt on <提示词名>", Handler: b.promptSet(true)},
		Command{Path: "/prompt/off", Description: "停用提示词", Usage: "/prompt off <提示词名>", Handler: b.promptSet(false)},
		Command{Path: "/tool/list", Description: "查看工具启用状态", Handler: b.toolList},
		Command{Path: "/tool/on", Description: "启用工具", Usage: "/tool on <工具名>", Handler: b.toolSet(true)},
		Command{Path: "/tool/off", Description: "停用工具", Usage: "/tool off <工具名>", Handler: b.toolSet(false)},
		Command{Path: "/help", Description: "显示命令帮助", Usage: "/help [命令路径]", Handler: b.help},
		Command{Path: "/exit", Description: "退出程序", Handler: b.exit},
	)
	return r
}

type builtins struct {
	env      *Env
	registry *Registry
}

func user(text string) (Result, error) {
	return Result{ForUser: text}, nil
}

func (b *builtins) aiList(context.Context, []string) (Result, error) {
	return user(strings.Join(config.SupportedSources(), ", "))
}

func (b *builtins) aiSet(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("参数缺失")
	}
	source := config.NormalizeSource(args[0])
	if !contains(config.SupportedSources(), source) {
		return user("源不存在，使用/ai list 检查")
	}
	if err := b.env.Settings.SetActiveSource(source); err != nil {
		return Result{}, err
	}
	b.applySettings()
	return user("已修改AI源为 " + source)
}

func (b *builtins) modelList(context.Context, []string) (Result, error) {
	source := b.env.Settings.Source()
	current := b.env.Settings.ModelFor(source)
	if current == "" {
		if pt, err := llm.ParseProviderType(source); err == nil {
			current = pt.DefaultModel() + "（默认）"
		}
	}
	return user(fmt.Sprintf("当前AI源: %s\n当前模型: %s", source, current))
}

func (b *builtins) modelSet(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("模型参数缺失")
	}
	if err := b.env.Settings.SetModel(args[0]); err != nil {
		return Result{}, err
	}
	b.applySettings()
	return user("已修改为模型 " + args[0])
}

// applySettings persists the settings and rebuilds the active client. A
// failed connection is kept in the holder so the next turn reports it.
func (b *builtins) applySettings() {
	s := b.env.Settings
	if err := s.Save(); err != nil {
		b.env.Logger.Warn("failed to save settings", zap.Error(err))
	}
	if b.env.Connect != nil && b.env.Clients != nil {
		b.env.Clients.Set(b.env.Connect())
	}
	source := s.Source()
	b.env.Metrics.RecordSourceChange(source, s.ModelFor(source))
	b.env.Logger.Info("AI source changed",
		zap.String("source", source),
		zap.String("model", s.ModelFor(source)))
}

func (b *builtins) apiGoogle(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("请提供API")
	}
	b.env.Settings.SetGoogleSearch(args[0], "")
	b.save()
	return user("已更新谷歌搜索API")
}

func (b *builtins) apiGoogleCSE(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("请提供CSE ID")
	}
	b.env.Settings.SetGoogleSearch("", args[0])
	b.save()
	return user("已更新谷歌搜索CSE ID")
}

func (b *builtins) apiKey(source, display string) Handler {
	return func(_ context.Context, args []string) (Result, error) {
		if len(args) == 0 {
			return user("请提供API")
		}
		if err := b.env.Settings.SetAPIKey(source, args[0]); err != nil {
			return Result{}, err
		}
		if b.env.Settings.Source() == source {
			b.applySettings()
		} else {
			b.save()
		}
		return user("已更新" + display + "模型API")
	}
}

func (b *builtins) save() {
	if err := b.env.Settings.Save(); err != nil {
		b.env.Logger.Warn("failed to save settings", zap.Error(err))
	}
}

func (b *builtins) load(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("会话名参数缺失")
	}
	if b.env.Store == nil || b.env.Sessions == nil {
		return user("会话存储不可用")
	}
	name := args[0]
	if err := storage.ValidateName(name); err != nil {
		return Result{}, err
	}
	exists, err := b.env.Store.Exists(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check session %s: %w", name, err)
	}
	if !exists {
		return user("会话不存在: " + name)
	}

	current := b.env.Sessions.Get()
	if err := b.env.Store.Save(ctx, current.Name(), current.Transcript()); err != nil {
		return Result{}, fmt.Errorf("failed to save session %s: %w", current.Name(), err)
	}
	transcript, err := b.env.Store.Load(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session %s: %w", name, err)
	}

	h := session.FromTranscript(name, transcript)
	if _, err := session.ReloadPrompts(h, b.env.PromptDir); err != nil {
		b.env.Logger.Warn("failed to reload prompts", zap.String("session", name), zap.Error(err))
	}
	if b.env.Reloader != nil {
		if err := b.env.Reloader.ReloadCode(h); err != nil {
			b.env.Logger.Warn("failed to reload code space", zap.Error(err))
		}
		if err := b.env.Reloader.ReloadReference(h); err != nil {
			b.env.Logger.Warn("failed to reload reference space", zap.Error(err))
		}
	}
	b.env.Sessions.Swap(h)
	b.env.Logger.Info("session loaded", zap.String("session", name), zap.Int("messages", h.Len()))
	return user("使用历史数据覆盖当前对话")
}

func (b *builtins) submit(context.Context, []string) (Result, error) {
	if b.env.Cache == nil || b.env.Cache.Empty() {
		return user("缓存为空")
	}
	return Result{ForUser: "已将缓存的信息提交给AI", ForModel: b.env.Cache.Take()}, nil
}

func (b *builtins) summary(ctx context.Context, _ []string) (Result, error) {
	if b.env.Summarizer == nil || b.env.Cache == nil {
		return user("总结失败: 总结功能不可用")
	}
	res, err := b.env.Summarizer.SummarizeCache(ctx, b.env.Cache)
	if err != nil {
		return user("总结失败: " + err.Error())
	}
	return user("总结信息: " + res + "\n\n总结信息已缓存，使用/submit提交给主AI")
}

func (b *builtins) cache(context.Context, []string) (Result, error) {
	if b.env.Cache == nil || b.env.Cache.Empty() {
		return user("缓存为空")
	}
	return user(b.env.Cache.Get())
}

func (b *builtins) file(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("文件路径参数缺失")
	}
	path := strings.Join(args, " ")
	content, err := session.ReadFileContent(path)
	if err != nil {
		return user("文件处理失败: " + err.Error())
	}
	if b.env.Cache != nil {
		b.env.Cache.Set(fmt.Sprintf("读取到了本地文件 %s 的完整内容：\n%s", path, content))
	}
	return user(fmt.Sprintf("读取到了本地文件 %s， 使用/summary总结关键信息或者使用/submit将内容提交给AI", path))
}

// fetch accepts a URL or the 1-based index of the last search listing.
func (b *builtins) fetch(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("URL参数缺失")
	}
	if b.env.Fetcher == nil {
		return user("网页获取失败: 获取功能不可用")
	}
	target := strings.TrimSpace(args[0])
	if n, err := strconv.Atoi(target); err == nil && b.env.Results != nil {
		item, ok := b.env.Results.At(n - 1)
		if !ok {
			return user(fmt.Sprintf("网页获取失败: 没有序号为 %d 的搜索结果", n))
		}
		target = item.Link
	}

	content, err := b.env.Fetcher.Fetch(ctx, target)
	if err != nil {
		return user("网页获取失败: " + err.Error())
	}
	return Result{ForUser: "已获取网页内容：" + target, ForModel: "[网页摘要]: " + content}, nil
}

func (b *builtins) search(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return user("请输入搜索关键词")
	}
	if b.env.Searcher == nil {
		return user("搜索功能未配置，请联系管理员设置API密钥。")
	}
	items, err := b.env.Searcher.Search(ctx, strings.Join(args, " "))
	switch {
	case errors.Is(err, tools.ErrSearchNotConfigured):
		return user("搜索功能未配置，请联系管理员设置API密钥。")
	case err != nil:
		return user("搜索失败：" + err.Error())
	case len(items) == 0:
		return user("未找到相关搜索结果")
	}

	if b.env.Results != nil {
		b.env.Results.Set(items)
	}
	lines := []string{"搜索结果："}
	for i, item := range items {
		lines = append(lines, fmt.Sprintf("%d. [%s](%s)", i+1, item.Title, item.Link))
	}
	return user(strings.Join(lines, "\n") + "\n\n使用/fetch <序号> 获取对应内容")
}

func (b *builtins) promptList(context.Context, []string) (Result, error) {
	h := b.env.Sessions.Get()
	if err := session.SyncPromptSettings(h, b.env.PromptDir); err != nil {
		return Result{}, err
	}
	return user(formatSwitches("提示词", h.PromptSettings()))
}

func (b *builtins) promptSet(enabled bool) Handler {
	return func(_ context.Context, args []string) (Result, error) {
		if len(args) == 0 {
			return user("提示词名参数缺失")
		}
		h := b.env.Sessions.Get()
		if err := session.SyncPromptSettings(h, b.env.PromptDir); err != nil {
			return Result{}, err
		}
		name := strings.TrimSuffix(args[0], ".txt")
		if _, known := h.PromptEnabled(name); !known {
			return user("提示词不存在: " + name)
		}
		h.SetPromptEnabled(name, enabled)
		if _, err := session.ReloadPrompts(h, b.env.PromptDir); err != nil {
			return Result{}, fmt.Errorf("failed to reload prompts: %w", err)
		}
		return user("提示词更改已更新至AI记忆")
	}
}

func (b *builtins) toolList(context.Context, []string) (Result, error) {
	h := b.env.Sessions.Get()
	settings := make(map[string]bool, len(tools.Kinds))
	for _, k := range tools.Kinds {
		settings[string(k)] = h.ToolEnabled(string(k))
	}
	return user(formatSwitches("工具", settings))
}

func (b *builtins) toolSet(enabled bool) Handler {
	return func(_ context.Context, args []string) (Result, error) {
		if len(args) == 0 {
			return user("工具名参数缺失")
		}
		kind, err := tools.ParseKind(args[0])
		if err != nil {
			return user("工具不存在: " + args[0])
		}
		h := b.env.Sessions.Get()
		h.SetToolEnabled(string(kind), enabled)
		if _, err := session.ReloadPrompts(h, b.env.PromptDir); err != nil {
			return Result{}, fmt.Errorf("failed to reload prompts: %w", err)
		}
		return user("工具设置已更新至AI记忆")
	}
}

func (b *builtins) help(_ context.Context, args []string) (Result, error) {
	var segments []string
	for _, a := range args {
		for _, seg := range strings.Split(strings.Trim(a, "/"), "/") {
			if seg != "" {
				segments = append(segments, seg)
			}
		}
	}
	return user(b.registry.Help(segments))
}

func (b *builtins) exit(context.Context, []string) (Result, error) {
	return Result{ForUser: "正在退出程序...", Exit: true}, nil
}

func formatSwitches(title string, settings map[string]bool) string {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{title + "启用状态:"}
	for _, name := range names {
		state := "关闭"
		if settings[name] {
			state = "开启"
		}
		lines = append(lines, fmt.Sprintf("  %-15s %s", name, state))
	}
	return strings.Join(lines, "\n")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
