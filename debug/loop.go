// Package debug runs the bounded debug sub-loop started by the debugger
// tool.
//
// Information Hiding:
// - Each iteration builds a throwaway history; the main session is never touched
// - Tool access narrowed to write, edit and test with private skip flags
// - The background goroutine, its cancellation and the hand-back of the
//   input owned by Runner
package debug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/observability"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/tools"
	"github.com/richinex/tagloop/turn"
)

// DefaultMaxIterations caps a run unless configured otherwise.
const DefaultMaxIterations = 10

const (
	taskPrefix   = "你需要完成的任务是："
	resultPrefix = "当前代码的测试结果："
	passedMarker = "所有测试通过"

	noticeRound  = "开始调试器轮次：%d"
	noticePassed = "所有测试通过，调试器结束"
	noticeLimit  = "调试器已达到最大轮次 %d，未能通过所有测试"
	noticeFailed = "调试器错误: %v"
	noticeAbort  = "调试器已中断"
)

var (
	// ErrIterationLimit ends a run that did not pass within the cap.
	ErrIterationLimit = errors.New("debug iteration limit reached")
	// ErrBusy is returned by Start while another run is active.
	ErrBusy = errors.New("debugger already running")
)

// Task is what the debugger was asked to do.
type Task struct {
	Description   string
	LoadReference bool
}

// Result describes a finished run.
type Result struct {
	RunID      string
	Iterations int
	Passed     bool
	// Feedback is the last test output forwarded to the model.
	Feedback string
	Err      error
}

// Runner drives debug runs. At most one run is active at a time.
type Runner struct {
	clients    *llm.Holder
	dispatcher *tools.Dispatcher
	flags      *tools.Flags
	state      *turn.StateMachine[turn.TurnState]
	prompt     func() (string, error)

	reloader      turn.Reloader
	maxIterations int
	observer      turn.Observer
	metrics       *observability.Metrics
	logger        *zap.Logger
	onFinish      func(Result)

	mu        sync.Mutex
	running   bool
	base      context.Context
	cancel    context.CancelFunc
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewRunner creates a runner. dispatcher is narrowed to write, edit and
// test with flags of its own, so failing tests inside a run never make the
// main loop skip user input. flags are the main loop's flags; the runner
// clears their occupy bit when a run ends.
func NewRunner(clients *llm.Holder, dispatcher *tools.Dispatcher, flags *tools.Flags, state *turn.StateMachine[turn.TurnState], prompt func() (string, error)) *Runner {
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		clients:       clients,
		dispatcher:    dispatcher.Restrict(&tools.Flags{}, tools.KindWrite, tools.KindEdit, tools.KindTest),
		flags:         flags,
		state:         state,
		prompt:        prompt,
		maxIterations: DefaultMaxIterations,
		logger:        zap.NewNop(),
		base:          base,
		cancel:        cancel,
	}
}

// WithMaxIterations sets the iteration cap; zero or less means unbounded.
func (r *Runner) WithMaxIterations(n int) *Runner {
	r.maxIterations = n
	return r
}

// WithReloader loads the code space (and the reference space on request)
// into every iteration.
func (r *Runner) WithReloader(reloader turn.Reloader) *Runner {
	r.reloader = reloader
	return r
}

// WithObserver sets the display sink.
func (r *Runner) WithObserver(o turn.Observer) *Runner {
	r.observer = o
	return r
}

// WithMetrics records run metrics.
func (r *Runner) WithMetrics(m *observability.Metrics) *Runner {
	r.metrics = m
	return r
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger *zap.Logger) *Runner {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// OnFinish registers a callback run after every background run.
func (r *Runner) OnFinish(fn func(Result)) *Runner {
	r.onFinish = fn
	return r
}

// Start launches a background run and moves the turn state to Processing
// so user input stays blocked until the run hands it back.
func (r *Runner) Start(args tools.DebugArgs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrBusy
	}
	if r.base.Err() != nil {
		return fmt.Errorf("failed to start debugger: %w", r.base.Err())
	}
	ctx, cancel := context.WithCancel(r.base)
	r.running = true
	r.runCancel = cancel
	r.state.Set(turn.Processing)

	task := Task{Description: args.Description, LoadReference: args.LoadReference}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.finish(r.Run(ctx, task))
	}()
	return nil
}

// Cancel aborts the active run, which then hands input back as usual. It
// reports whether a run was active.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.runCancel == nil {
		return false
	}
	r.runCancel()
	return true
}

func (r *Runner) finish(res Result) {
	switch {
	case res.Passed:
		r.metrics.RecordDebugRun("passed", res.Iterations)
	case errors.Is(res.Err, ErrIterationLimit):
		r.metrics.RecordDebugRun("limit", res.Iterations)
	case errors.Is(res.Err, context.Canceled):
		r.metrics.RecordDebugRun("cancelled", res.Iterations)
	default:
		r.metrics.RecordDebugRun("failed", res.Iterations)
	}

	r.mu.Lock()
	r.running = false
	r.runCancel = nil
	r.mu.Unlock()

	r.flags.SetOccupy(false)
	r.state.Set(turn.WaitingForInput)
	if r.onFinish != nil {
		r.onFinish(res)
	}
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until the active run, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels the active run and waits for it.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// Run executes a task in the calling goroutine until the tests pass, the
// cap is reached or ctx is done.
func (r *Runner) Run(ctx context.Context, task Task) Result {
	res := Result{RunID: uuid.NewString()}
	logger := r.logger.With(zap.String("run_id", res.RunID))
	logger.Info("debug run started", zap.Bool("load_reference", task.LoadReference))

	prompt, err := r.prompt()
	if err != nil {
		res.Err = fmt.Errorf("failed to load debugger prompt: %w", err)
		r.notice(fmt.Sprintf(noticeFailed, res.Err))
		return res
	}

	for r.maxIterations <= 0 || res.Iterations < r.maxIterations {
		if err := ctx.Err(); err != nil {
			res.Err = err
			r.notice(noticeAbort)
			return res
		}
		res.Iterations++
		r.notice(fmt.Sprintf(noticeRound, res.Iterations))

		h := r.iterationHistory(res.RunID, prompt, task, res.Feedback)
		if err := r.reload(h, task.LoadReference); err != nil {
			logger.Warn("workspace reload failed", zap.Error(err))
		}

		client, err := r.clients.Get()
		if err != nil {
			res.Err = err
			r.notice(fmt.Sprintf(noticeFailed, err))
			return res
		}
		reply, err := turn.Collect(ctx, client, h.ChatMessages(), r.observer, r.metrics)
		if ctx.Err() != nil {
			// partial replies are discarded without dispatch
			res.Err = ctx.Err()
			r.notice(noticeAbort)
			return res
		}
		if err != nil {
			res.Err = err
			r.notice(fmt.Sprintf(noticeFailed, err))
			return res
		}

		outcome := r.dispatcher.Process(ctx, reply.Content+"\n <test>")
		if outcome.UserMessage != "" {
			r.notice(outcome.UserMessage)
		}
		res.Feedback = outcome.ModelFeedback

		logger.Debug("debug iteration finished",
			zap.Int("iteration", res.Iterations),
			zap.Int("tools", outcome.Executed()))

		if strings.Contains(outcome.UserMessage, passedMarker) {
			res.Passed = true
			r.notice(noticePassed)
			logger.Info("debug run passed", zap.Int("iterations", res.Iterations))
			return res
		}
	}

	res.Err = ErrIterationLimit
	r.notice(fmt.Sprintf(noticeLimit, r.maxIterations))
	logger.Warn("debug run hit the iteration limit", zap.Int("iterations", res.Iterations))
	return res
}

func (r *Runner) iterationHistory(runID, prompt string, task Task, feedback string) *session.History {
	h := session.NewNamed("debug-" + runID)
	h.Add(model.RoleSystem, prompt, "")
	h.Add(model.RoleUser, taskPrefix+task.Description, "")
	if feedback != "" {
		h.Add(model.RoleSystem, resultPrefix+feedback, "")
	}
	return h
}

func (r *Runner) reload(h *session.History, reference bool) error {
	if r.reloader == nil {
		return nil
	}
	if err := r.reloader.ReloadCode(h); err != nil {
		return err
	}
	if reference {
		return r.reloader.ReloadReference(h)
	}
	return nil
}

func (r *Runner) notice(text string) {
	if r.observer != nil {
		r.observer.SystemNotice(text)
	}
}

// Verify Runner implements tools.DebugStarter
var _ tools.DebugStarter = (*Runner)(nil)
