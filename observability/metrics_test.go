package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/richinex/tagloop/tools"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn(TurnCompleted, time.Second)
	m.RecordSkip()
	m.RecordSkipCap()
	m.ToolExecuted("write", nil, time.Millisecond)
	m.RecordDebugRun("passed", 2)
	m.RecordFirstChunk(time.Millisecond)
	m.RecordSourceChange("DeepSeek", "")
	require.NoError(t, m.Serve(t.Context(), ":0", nil))
}

func TestToolExecutedLabelsByClass(t *testing.T) {
	m := NewMetrics()
	m.ToolExecuted("write", nil, time.Millisecond)
	m.ToolExecuted("write", tools.Errorf(tools.ErrInvalidArgument, "bad"), time.Millisecond)
	m.ToolExecuted("test", tools.Errorf(tools.ErrExecutionFault, "failed"), time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("write", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("write", "invalid_argument")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("test", "execution_fault")))
}

func TestTurnAndSkipCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn(TurnCompleted, time.Second)
	m.RecordTurn(TurnCompleted, time.Second)
	m.RecordTurn(TurnAborted, time.Second)
	m.RecordSkip()
	m.RecordDebugRun("passed", 3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues(TurnCompleted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues(TurnAborted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.InputSkips))
	require.Equal(t, 3.0, testutil.ToFloat64(m.DebugRounds))
}

func TestErrorClass(t *testing.T) {
	require.Equal(t, "ok", ErrorClass(nil))
	require.Equal(t, "not_found", ErrorClass(tools.Errorf(tools.ErrNotFound, "x")))
	require.Equal(t, "transport_fault", ErrorClass(tools.Errorf(tools.ErrTransportFault, "x")))
	require.Equal(t, "error", ErrorClass(errors.New("plain")))
}
