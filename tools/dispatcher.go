// Tool dispatch.
//
// Information Hiding:
// - Per-batch facts (has_summary) computed once and passed to executors
// - Enabled/allowed filtering hidden behind Process
// - Sequential execution; results folded into one Outcome

package tools

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Observer is notified after every executed invocation.
type Observer interface {
	ToolExecuted(kind string, err error, elapsed time.Duration)
}

// Outcome is the folded result of every invocation in one reply.
type Outcome struct {
	UserMessage   string
	ModelFeedback string
	Skip          bool
	Results       []Result
}

// Executed returns the number of invocations that ran.
func (o Outcome) Executed() int {
	return len(o.Results)
}

// Dispatcher parses replies and runs the invocations it finds.
type Dispatcher struct {
	registry *Registry
	flags    *Flags
	enabled  func(Kind) bool
	allowed  map[Kind]bool
	observer Observer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over registry. flags may be nil, in
// which case the skip decision is only reported in the Outcome.
func NewDispatcher(registry *Registry, flags *Flags) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		flags:    flags,
		logger:   zap.NewNop(),
	}
}

// WithEnabled sets the per-kind switch consulted before every invocation.
func (d *Dispatcher) WithEnabled(enabled func(Kind) bool) *Dispatcher {
	d.enabled = enabled
	return d
}

// WithObserver sets the invocation observer.
func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

// WithLogger sets the logger.
func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Restrict returns a copy that only runs the given kinds and writes to flags
// instead of the original flags.
func (d *Dispatcher) Restrict(flags *Flags, kinds ...Kind) *Dispatcher {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &Dispatcher{
		registry: d.registry,
		flags:    flags,
		enabled:  d.enabled,
		allowed:  allowed,
		observer: d.observer,
		logger:   d.logger,
	}
}

func (d *Dispatcher) runnable(kind Kind) bool {
	if d.allowed != nil && !d.allowed[kind] {
		return false
	}
	if d.enabled != nil && !d.enabled(kind) {
		return false
	}
	return d.registry.Has(kind)
}

// Process parses text and executes its invocations one after another.
func (d *Dispatcher) Process(ctx context.Context, text string) Outcome {
	invocations := Parse(text)

	// a summary that will not run must not hide fetched pages
	batch := Batch{}
	if d.runnable(KindSummary) {
		for _, inv := range invocations {
			if inv.Kind == KindSummary {
				batch.HasSummary = true
				break
			}
		}
	}

	var (
		outcome Outcome
		user    []string
		model   []string
	)
	for _, inv := range invocations {
		if !d.runnable(inv.Kind) {
			d.logger.Debug("tool skipped", zap.String("kind", string(inv.Kind)))
			continue
		}
		executor, _ := d.registry.Get(inv.Kind)

		start := time.Now()
		result := executor.Execute(ctx, inv, batch)
		elapsed := time.Since(start)

		if d.observer != nil {
			d.observer.ToolExecuted(string(inv.Kind), result.Err, elapsed)
		}
		if result.Err != nil {
			d.logger.Warn("tool failed",
				zap.String("kind", string(inv.Kind)),
				zap.Duration("elapsed", elapsed),
				zap.Error(result.Err))
		} else {
			d.logger.Debug("tool executed",
				zap.String("kind", string(inv.Kind)),
				zap.Duration("elapsed", elapsed))
		}

		outcome.Results = append(outcome.Results, result)
		outcome.Skip = outcome.Skip || result.Skip
		if result.UserMessage != "" {
			user = append(user, result.UserMessage)
		}
		if result.ModelFeedback != "" {
			model = append(model, result.ModelFeedback)
		}
	}

	outcome.UserMessage = strings.Join(user, "\n")
	outcome.ModelFeedback = strings.Join(model, "\n")
	if d.flags != nil {
		d.flags.SetSkip(outcome.Skip)
	}
	return outcome
}
