// Interactive chat surface.
//
// Information Hiding:
// - Wiring of tools, dispatcher, coordinator and debug runner hidden
// - Startup sequence and signal handling hidden: SIGINT aborts the
//   in-flight turn or debug run before it quits
// - Stdin reading decoupled from the coordinator through Submit

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/richinex/tagloop/command"
	"github.com/richinex/tagloop/config"
	"github.com/richinex/tagloop/debug"
	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/observability"
	"github.com/richinex/tagloop/prompts"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/storage"
	"github.com/richinex/tagloop/tools"
	"github.com/richinex/tagloop/turn"
)

// Options holds chat options.
type Options struct {
	// Project overrides projects.default.
	Project string
	// Source overrides active_source for this run without saving it.
	Source string
	// Session resumes a saved session instead of starting a new one.
	Session string

	In      io.Reader
	Out     io.Writer
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

func (o *Options) defaults() {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// OpenProject resolves and creates the project selected by name or the
// configured default.
func OpenProject(settings *config.Settings, name string) (*session.Project, error) {
	if name == "" {
		name = settings.Projects.Default
	}
	p, err := session.NewProject(settings.Projects.Root, name)
	if err != nil {
		return nil, err
	}
	if err := p.Setup(); err != nil {
		return nil, fmt.Errorf("failed to set up project %s: %w", name, err)
	}
	return p, nil
}

// OpenStore opens the session store of a project.
func OpenStore(settings *config.Settings, p *session.Project) (storage.SessionStore, func() error, error) {
	return storage.Open(settings.Storage.Backend, settings.Storage.SqlitePath, p.HistoryDir(), p.Name)
}

// Chat runs the interactive loop until /exit, end of input or a signal.
func Chat(ctx context.Context, settings *config.Settings, opts Options) error {
	opts.defaults()
	logger := opts.Logger

	if opts.Source != "" {
		settings.ActiveSource = config.NormalizeSource(opts.Source)
	}

	p, err := OpenProject(settings, opts.Project)
	if err != nil {
		return err
	}
	store, closeStore, err := OpenStore(settings, p)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeStore()

	var (
		flags    = &tools.Flags{}
		cache    = &tools.CacheCell{}
		results  = &tools.SearchResults{}
		sessions = session.NewMain(session.NewHistory())
		holder   = llm.NewHolder(Connect(settings))
		loader   = session.NewWorkspace().Loader(p)
		renderer = NewRenderer(opts.Out)
	)

	python := tools.PythonConfig{
		Dir:         p.CodeDir(),
		Python:      settings.Tools.Python,
		RunTimeout:  settings.Tools.RunTimeout,
		TestTimeout: settings.Tools.TestTimeout,
	}
	searcher := tools.NewGoogleSearch(settings.GoogleSearch, settings.Search.Results, settings.Tools.FetchTimeout)
	fetcher := tools.NewFetcher(settings.Tools.FetchTimeout)
	summarizer := tools.NewSummarizer(holder, func() (string, error) {
		return p.PromptDir().Read(prompts.Summarizer)
	})

	registry := tools.NewRegistry().MustRegister(
		tools.NewCacheTool(cache),
		tools.NewWriteTool(p.CodeDir()),
		tools.NewEditTool(p.CodeDir()),
		tools.NewRunTool(python),
		tools.NewTestTool(python),
		tools.NewSearchTool(searcher, cache, results),
		tools.NewFetchTool(fetcher, cache),
		tools.NewSummaryTool(summarizer, cache),
	)
	dispatcher := tools.NewDispatcher(registry, flags).
		WithEnabled(func(k tools.Kind) bool { return sessions.Get().ToolEnabled(string(k)) }).
		WithObserver(opts.Metrics).
		WithLogger(logger)

	coord := turn.New(sessions, holder, dispatcher, flags).
		WithMaxSkip(settings.Loop.MaxSkipInputTurn).
		WithStore(store).
		WithReloader(loader).
		WithObserver(renderer).
		WithMetrics(opts.Metrics).
		WithLogger(logger)

	runner := debug.NewRunner(holder, dispatcher, flags, coord.TurnState(), func() (string, error) {
		return session.DebugPrompt(p.PromptDir())
	}).
		WithMaxIterations(settings.Debug.MaxIterations).
		WithReloader(loader).
		WithObserver(renderer).
		WithMetrics(opts.Metrics).
		WithLogger(logger).
		OnFinish(func(res debug.Result) {
			logger.Info("debug run finished",
				zap.String("run_id", res.RunID),
				zap.Bool("passed", res.Passed),
				zap.Int("iterations", res.Iterations))
		})
	defer runner.Close()
	if err := registry.Register(tools.NewDebuggerTool(runner, flags)); err != nil {
		return err
	}

	env := &command.Env{
		Settings:   settings,
		Clients:    holder,
		Connect:    func() (*llm.Client, error) { return Connect(settings) },
		Sessions:   sessions,
		Store:      store,
		PromptDir:  p.PromptDir(),
		Reloader:   loader,
		Cache:      cache,
		Results:    results,
		Searcher:   searcher,
		Fetcher:    fetcher,
		Summarizer: summarizer,
		Metrics:    opts.Metrics,
		Logger:     logger,
	}
	coord.WithInterceptor(command.NewInterceptor(command.Builtins(env), sessions, cache))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == os.Interrupt && (coord.CancelTurn() || runner.Cancel()) {
					continue
				}
				cancel()
				return
			}
		}
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- coord.Run(ctx)
		cancel()
	}()

	steps := startupSteps(settings, opts, store, sessions, p, loader, renderer)
	if err := coord.RunInit(ctx, steps...); err != nil {
		cancel()
		<-runDone
		return err
	}

	readErr := readInput(ctx, coord, renderer, opts.In)
	cancel()
	runErr := <-runDone

	if current := sessions.Get(); hasConversation(current) {
		if err := store.Save(context.Background(), current.Name(), current.Transcript()); err != nil {
			logger.Warn("failed to save session on exit", zap.String("session", current.Name()), zap.Error(err))
		}
	}
	if readErr != nil {
		return readErr
	}
	return runErr
}

// hasConversation reports whether h holds anything beyond loaded prompts and
// workspace files.
func hasConversation(h *session.History) bool {
	for _, m := range h.Messages() {
		if m.Role != model.RoleSystem {
			return true
		}
	}
	return false
}

func startupSteps(settings *config.Settings, opts Options, store storage.SessionStore, sessions *session.Main, p *session.Project, loader *session.Loader, r *Renderer) []turn.InitStep {
	return []turn.InitStep{
		{State: turn.LoadingConfig, Run: func(context.Context) error {
			return settings.Validate()
		}},
		{State: turn.CheckingSource, Run: func(context.Context) error {
			source := settings.Source()
			if source == "" {
				r.SystemNotice("未选择AI加载器来源")
				r.SystemNotice("可选的AI列表：" + fmt.Sprint(config.SupportedSources()))
				r.SystemNotice("使用/ai set <AI名>来设置AI")
				return nil
			}
			r.SystemNotice("当前AI加载器来源：" + source)
			if name := settings.ModelFor(source); name != "" {
				r.SystemNotice("当前模型：" + name)
			}
			return nil
		}},
		{State: turn.LoadingHistory, Run: func(ctx context.Context) error {
			h := sessions.Get()
			if opts.Session != "" {
				t, err := store.Load(ctx, opts.Session)
				if err != nil {
					return fmt.Errorf("failed to load session %s: %w", opts.Session, err)
				}
				h = session.FromTranscript(opts.Session, t)
				sessions.Swap(h)
			}
			notices, err := session.ReloadPrompts(h, p.PromptDir())
			if err != nil {
				return err
			}
			for _, n := range notices {
				r.SystemNotice(n)
			}
			return nil
		}},
		{State: turn.LoadingReference, Run: func(context.Context) error {
			return loader.ReloadReference(sessions.Get())
		}},
		{State: turn.LoadingCode, Run: func(context.Context) error {
			return loader.ReloadCode(sessions.Get())
		}},
	}
}

// readInput forwards lines to the coordinator whenever it waits for input.
func readInput(ctx context.Context, coord *turn.Coordinator, r *Renderer, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	if err := coord.WaitReady(ctx); err != nil {
		return nil
	}
	for {
		if err := coord.TurnState().WaitFor(ctx, turn.WaitingForInput); err != nil {
			return nil
		}
		r.Prompt()

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := coord.Submit(ctx, line); err != nil {
				return nil
			}
		}
	}
}
