// Package observability exposes Prometheus collectors for the chat loop.
//
// Information Hiding:
// - Collector construction and registration hidden behind NewMetrics
// - Every Record method is nil-safe so callers never check for metrics
// - The HTTP listener is optional and owned by Serve
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/richinex/tagloop/tools"
)

// Turn results.
const (
	TurnCompleted = "completed"
	TurnAborted   = "aborted"
	TurnFailed    = "failed"
)

// Metrics bundles the collectors of one process.
type Metrics struct {
	registry      *prometheus.Registry
	Turns         *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	FirstChunk    prometheus.Histogram
	InputSkips    prometheus.Counter
	SkipCapHits   prometheus.Counter
	ToolCalls     *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	DebugRuns     *prometheus.CounterVec
	DebugRounds   prometheus.Counter
	SourceChanges *prometheus.CounterVec
}

// NewMetrics constructs a registry with every collector registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagloop_turns_total",
		Help: "Model turns by result",
	}, []string{"result"})

	turnDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagloop_turn_duration_seconds",
		Help:    "Time from stream start to the end of tool dispatch",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	firstChunk := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagloop_stream_first_chunk_seconds",
		Help:    "Latency until the first streamed fragment",
		Buckets: prometheus.DefBuckets,
	})

	skips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tagloop_input_skips_total",
		Help: "Turns that ran without waiting for user input",
	})

	capHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tagloop_skip_cap_reached_total",
		Help: "Times the consecutive skip cap handed control back to the user",
	})

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagloop_tool_invocations_total",
		Help: "Tool invocations by kind and result",
	}, []string{"kind", "result"})

	toolDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagloop_tool_duration_seconds",
		Help:    "Tool execution time in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	debugRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagloop_debug_runs_total",
		Help: "Debug sub-loop runs by result",
	}, []string{"result"})

	debugRounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tagloop_debug_iterations_total",
		Help: "Debug sub-loop iterations",
	})

	sources := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagloop_source_changes_total",
		Help: "AI source or model switches",
	}, []string{"source", "model"})

	reg.MustRegister(turns, turnDur, firstChunk, skips, capHits, toolCalls, toolDur, debugRuns, debugRounds, sources)

	return &Metrics{
		registry:      reg,
		Turns:         turns,
		TurnDuration:  turnDur,
		FirstChunk:    firstChunk,
		InputSkips:    skips,
		SkipCapHits:   capHits,
		ToolCalls:     toolCalls,
		ToolDuration:  toolDur,
		DebugRuns:     debugRuns,
		DebugRounds:   debugRounds,
		SourceChanges: sources,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTurn records a finished model turn.
func (m *Metrics) RecordTurn(result string, duration time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.Turns.WithLabelValues(result).Inc()
	m.TurnDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordFirstChunk records the latency until the first fragment arrived.
func (m *Metrics) RecordFirstChunk(latency time.Duration) {
	if m == nil {
		return
	}
	m.FirstChunk.Observe(latency.Seconds())
}

// RecordSkip counts a turn that skipped user input.
func (m *Metrics) RecordSkip() {
	if m == nil {
		return
	}
	m.InputSkips.Inc()
}

// RecordSkipCap counts a forced hand-back at the skip cap.
func (m *Metrics) RecordSkipCap() {
	if m == nil {
		return
	}
	m.SkipCapHits.Inc()
}

// ToolExecuted records one tool invocation.
func (m *Metrics) ToolExecuted(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(kind, ErrorClass(err)).Inc()
	m.ToolDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordDebugRun records a finished debug sub-loop run.
func (m *Metrics) RecordDebugRun(result string, iterations int) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.DebugRuns.WithLabelValues(result).Inc()
	m.DebugRounds.Add(float64(iterations))
}

// RecordSourceChange records a switch of AI source or model.
func (m *Metrics) RecordSourceChange(source, model string) {
	if m == nil {
		return
	}
	if model == "" {
		model = "default"
	}
	m.SourceChanges.WithLabelValues(source, model).Inc()
}

// ErrorClass maps a tool error onto a short label.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tools.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, tools.ErrNotFound):
		return "not_found"
	case errors.Is(err, tools.ErrExecutionFault):
		return "execution_fault"
	case errors.Is(err, tools.ErrCollaboratorUnavailable):
		return "collaborator_unavailable"
	case errors.Is(err, tools.ErrTransportFault):
		return "transport_fault"
	default:
		return "error"
	}
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables
// the listener and returns immediately.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if m == nil || addr == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listener failed: %w", err)
	}
	return nil
}

// Verify Metrics implements tools.Observer
var _ tools.Observer = (*Metrics)(nil)
