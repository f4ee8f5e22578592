// Turn coordination.
//
// Information Hiding:
// - Single-slot input handoff between the reader and the loop hidden behind Submit
// - Marker detection over the streamed tail hidden in Collect
// - Skip counting, session saving and tool dispatch folded into one turn

package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/tagloop/internal/markup"
	"github.com/richinex/tagloop/llm"
	"github.com/richinex/tagloop/model"
	"github.com/richinex/tagloop/observability"
	"github.com/richinex/tagloop/session"
	"github.com/richinex/tagloop/storage"
	"github.com/richinex/tagloop/tools"
)

// Stream markers. Either one in the recent tail stops the stream; <end>
// also hands control back to the user.
const (
	MarkerWait = "<wait>"
	MarkerEnd  = "<end>"

	markerWindow = 5
)

// Notices shown by the coordinator.
const (
	NoticeInterrupted = "检测到中断信号，打断模型输出，抛弃未完成的信息"
	NoticeSkipCap     = "已达到连续跳过用户输入的上限，等待用户输入"
)

// ErrTurnCancelled is returned by stream when CancelTurn interrupted it.
var ErrTurnCancelled = errors.New("turn cancelled")

// Observer receives everything the chat surface displays.
type Observer interface {
	StreamStarted()
	StreamChunk(chunk llm.StreamChunk)
	StreamFinished(elapsed time.Duration, err error)
	SystemNotice(text string)
	TurnStatus(status Status)
}

// Status is reported after every completed model turn.
type Status struct {
	Session  string
	Tokens   int
	Skips    int
	MaxSkips int
}

// Interception is what an InputInterceptor did with a line of input.
type Interception struct {
	// Notice is shown to the user when not empty.
	Notice string
	// Handled means the input must not reach the model.
	Handled bool
	// Exit stops the loop.
	Exit bool
}

// InputInterceptor sees every line of user input before the model does.
type InputInterceptor interface {
	Intercept(ctx context.Context, input string) Interception
}

// Reloader refreshes workspace messages of a history.
type Reloader interface {
	ReloadCode(h *session.History) error
	ReloadReference(h *session.History) error
}

type nopObserver struct{}

func (nopObserver) StreamStarted()                      {}
func (nopObserver) StreamChunk(llm.StreamChunk)         {}
func (nopObserver) StreamFinished(time.Duration, error) {}
func (nopObserver) SystemNotice(string)                 {}
func (nopObserver) TurnStatus(Status)                   {}

// Coordinator runs the conversation loop: wait for input, stream the
// model reply, dispatch its tools and decide whether the next turn waits
// for the user.
type Coordinator struct {
	sessions   *session.Main
	llm        *llm.Holder
	dispatcher *tools.Dispatcher
	flags      *tools.Flags

	turn *StateMachine[TurnState]
	init *StateMachine[InitState]
	skip *SkipPolicy

	// pending is guarded by the turn machine's lock
	pending string

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	store       storage.SessionStore
	interceptor InputInterceptor
	reloader    Reloader
	observer    Observer
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// New creates a coordinator. The skip cap defaults to Unbounded.
func New(sessions *session.Main, holder *llm.Holder, dispatcher *tools.Dispatcher, flags *tools.Flags) *Coordinator {
	return &Coordinator{
		sessions:   sessions,
		llm:        holder,
		dispatcher: dispatcher,
		flags:      flags,
		turn:       NewStateMachine(WaitingForInput),
		init:       NewStateMachine(Starting),
		skip:       NewSkipPolicy(Unbounded),
		observer:   nopObserver{},
		logger:     zap.NewNop(),
	}
}

// WithMaxSkip sets the consecutive skip cap.
func (c *Coordinator) WithMaxSkip(max int) *Coordinator {
	c.skip = NewSkipPolicy(max)
	return c
}

// WithStore saves the session after every completed turn.
func (c *Coordinator) WithStore(store storage.SessionStore) *Coordinator {
	c.store = store
	return c
}

// WithInterceptor routes user input through i first.
func (c *Coordinator) WithInterceptor(i InputInterceptor) *Coordinator {
	c.interceptor = i
	return c
}

// WithReloader refreshes the code space before every model turn.
func (c *Coordinator) WithReloader(r Reloader) *Coordinator {
	c.reloader = r
	return c
}

// WithObserver sets the display sink.
func (c *Coordinator) WithObserver(o Observer) *Coordinator {
	if o != nil {
		c.observer = o
	}
	return c
}

// WithMetrics records turn metrics.
func (c *Coordinator) WithMetrics(m *observability.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// WithLogger sets the logger.
func (c *Coordinator) WithLogger(logger *zap.Logger) *Coordinator {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// TurnState returns the machine shared with the debug sub-loop.
func (c *Coordinator) TurnState() *StateMachine[TurnState] {
	return c.turn
}

// InitState returns the startup machine.
func (c *Coordinator) InitState() *StateMachine[InitState] {
	return c.init
}

// Skips returns the number of consecutive turns that skipped user input.
func (c *Coordinator) Skips() int {
	return c.skip.Count()
}

// Submit hands one line of user input to the loop. It blocks while a turn
// or a debug run is in progress.
func (c *Coordinator) Submit(ctx context.Context, input string) error {
	for {
		if err := c.turn.WaitFor(ctx, WaitingForInput); err != nil {
			return err
		}
		if c.turn.Transition(WaitingForInput, FinishInput, func() { c.pending = input }) {
			return nil
		}
	}
}

// CancelTurn interrupts the turn in flight and reports whether there was
// one. The partial reply is discarded and no tool runs.
func (c *Coordinator) CancelTurn() bool {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

func (c *Coordinator) setCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.cancel = cancel
}

// Run drives the loop until ctx is done or the interceptor asks to exit.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if c.flags.Occupied() {
			// the debugger owns the input until it hands the state back
			if _, err := c.turn.WaitUntil(ctx, func(s TurnState) bool { return s != Processing }); err != nil {
				return nil
			}
			continue
		}

		if c.flags.Skip() {
			c.flags.SetSkip(false)
			c.safeTurn(ctx)
			continue
		}

		c.turn.Transition(Processing, WaitingForInput, nil)
		input, err := c.awaitInput(ctx)
		if err != nil {
			return nil
		}
		if c.handleInput(ctx, input) {
			return nil
		}
	}
}

func (c *Coordinator) awaitInput(ctx context.Context) (string, error) {
	for {
		if err := c.turn.WaitFor(ctx, FinishInput); err != nil {
			return "", err
		}
		var input string
		if c.turn.Transition(FinishInput, Processing, func() {
			input = c.pending
			c.pending = ""
		}) {
			return input, nil
		}
	}
}

// handleInput reports whether the loop should exit.
func (c *Coordinator) handleInput(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	if c.interceptor != nil {
		r := c.interceptor.Intercept(ctx, input)
		if r.Notice != "" {
			c.observer.SystemNotice(r.Notice)
		}
		if r.Exit {
			return true
		}
		if r.Handled {
			return false
		}
	}

	c.skip.Reset()
	c.sessions.Get().Add(model.RoleUser, input, input)
	c.safeTurn(ctx)
	return false
}

func (c *Coordinator) safeTurn(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("turn panicked", zap.Any("panic", r))
			c.observer.SystemNotice(fmt.Sprintf("发生错误: %v", r))
			c.flags.SetSkip(false)
			c.skip.Reset()
		}
	}()
	c.runTurn(ctx)
}

// Reply is one collected model reply.
type Reply struct {
	// Think is the reasoning, streamed separately or split from the content.
	Think string
	// Content is the raw reply text, think block included.
	Content string
	// ForceStop is set when the reply ended with <end>.
	ForceStop bool
}

func (c *Coordinator) runTurn(ctx context.Context) {
	h := c.sessions.Get()
	if c.reloader != nil {
		if err := c.reloader.ReloadCode(h); err != nil {
			c.logger.Warn("code reload failed", zap.Error(err))
		}
	}

	client, err := c.llm.Get()
	if err != nil {
		c.observer.SystemNotice(fmt.Sprintf("AI源不可用: %v，使用 /ai set <AI名> 和 /model set <模型名> 进行设置", err))
		c.metrics.RecordTurn(observability.TurnFailed, 0)
		c.handBack()
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer func() {
		c.setCancel(nil)
		cancel()
	}()

	start := time.Now()
	r, err := Collect(turnCtx, client, h.ChatMessages(), c.observer, c.metrics)
	switch {
	case errors.Is(err, ErrTurnCancelled):
		c.observer.SystemNotice(NoticeInterrupted)
		c.metrics.RecordTurn(observability.TurnAborted, time.Since(start))
		c.handBack()
		return
	case err != nil:
		c.logger.Warn("model stream failed", zap.Error(err))
		c.observer.SystemNotice(fmt.Sprintf("模型调用失败: %v", err))
		c.metrics.RecordTurn(observability.TurnFailed, time.Since(start))
		c.handBack()
		return
	}

	h.Append(model.Message{
		Role:     model.RoleAssistant,
		ForModel: markup.StripThink(r.Content),
		ForUser:  r.Content,
		Think:    r.Think,
	})

	outcome := c.dispatcher.Process(turnCtx, r.Content)
	if outcome.UserMessage != "" {
		c.observer.SystemNotice(outcome.UserMessage)
	}
	if outcome.UserMessage != "" || outcome.ModelFeedback != "" {
		h.Add(model.RoleSystem, outcome.ModelFeedback, outcome.UserMessage, model.TagTool)
	}

	c.save(ctx, h)
	c.metrics.RecordTurn(observability.TurnCompleted, time.Since(start))

	d := c.skip.Next(outcome.Skip, r.ForceStop)
	switch {
	case d.Continue:
		c.flags.SetSkip(true)
		c.metrics.RecordSkip()
		if d.Warning != "" {
			h.Add(model.RoleSystem, d.Warning, d.Warning)
			c.observer.SystemNotice(d.Warning)
		}
	case outcome.Skip && !r.ForceStop:
		c.flags.SetSkip(false)
		c.metrics.RecordSkipCap()
		c.observer.SystemNotice(NoticeSkipCap)
	default:
		c.flags.SetSkip(false)
	}

	c.observer.TurnStatus(Status{
		Session:  h.Name(),
		Tokens:   session.EstimateTokens(h.ChatMessages()),
		Skips:    c.skip.Count(),
		MaxSkips: c.skip.Max(),
	})
}

// handBack clears the skip state so the next iteration waits for the user.
func (c *Coordinator) handBack() {
	c.flags.SetSkip(false)
	c.skip.Reset()
}

func (c *Coordinator) save(ctx context.Context, h *session.History) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, h.Name(), h.Transcript()); err != nil {
		c.logger.Warn("failed to save session", zap.String("session", h.Name()), zap.Error(err))
	}
}

// Collect streams one model reply and reports it to o. ctx is the turn
// context: cancelling it aborts with ErrTurnCancelled. A marker only stops
// the stream, so a provider error after a marker is ignored.
func Collect(ctx context.Context, client *llm.Client, msgs []llm.ChatMessage, o Observer, metrics *observability.Metrics) (Reply, error) {
	if o == nil {
		o = nopObserver{}
	}
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	o.StreamStarted()
	start := time.Now()

	s := client.Stream(streamCtx, msgs)
	var (
		content  []string
		think    strings.Builder
		first    = true
		marked   bool
		forceEnd bool
	)
	for chunk := range s.Chunks() {
		if first {
			metrics.RecordFirstChunk(time.Since(start))
			first = false
		}
		o.StreamChunk(chunk)
		think.WriteString(chunk.Reasoning)
		if chunk.Content == "" {
			continue
		}
		content = append(content, chunk.Content)
		tail := strings.Join(content[max(0, len(content)-markerWindow):], "")
		if strings.Contains(tail, MarkerWait) || strings.Contains(tail, MarkerEnd) {
			marked = true
			forceEnd = strings.Contains(tail, MarkerEnd)
			stop()
			break
		}
	}
	_, err := s.Wait()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		o.StreamFinished(elapsed, ErrTurnCancelled)
		return Reply{}, ErrTurnCancelled
	}
	if err != nil && !marked {
		o.StreamFinished(elapsed, err)
		return Reply{}, err
	}
	o.StreamFinished(elapsed, nil)

	r := Reply{
		Think:     think.String(),
		Content:   strings.Join(content, ""),
		ForceStop: forceEnd,
	}
	if r.Think == "" {
		r.Think, _ = markup.SplitThink(r.Content)
	}
	return r, nil
}
