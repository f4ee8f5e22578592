package turn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the tokenizer may keep an idle connection after fetching its tables
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestWaitForWakesOnSet(t *testing.T) {
	m := NewStateMachine(WaitingForInput)
	done := make(chan error, 1)
	go func() {
		done <- m.WaitFor(context.Background(), Processing)
	}()

	m.Set(FinishInput)
	m.Set(Processing)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWaitForHonoursContext(t *testing.T) {
	m := NewStateMachine(WaitingForInput)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.WaitFor(ctx, Processing)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, WaitingForInput, m.Get())
}

func TestTransitionOnlyFromExpectedState(t *testing.T) {
	m := NewStateMachine(WaitingForInput)
	ran := false
	require.False(t, m.Transition(Processing, FinishInput, func() { ran = true }))
	require.False(t, ran)

	require.True(t, m.Transition(WaitingForInput, FinishInput, func() { ran = true }))
	require.True(t, ran)
	require.Equal(t, FinishInput, m.Get())
}

func TestWaitUntilReturnsObservedState(t *testing.T) {
	m := NewStateMachine(Processing)
	go m.Set(FinishInput)

	got, err := m.WaitUntil(context.Background(), func(s TurnState) bool { return s != Processing })
	require.NoError(t, err)
	require.Equal(t, FinishInput, got)
}

func TestStateNames(t *testing.T) {
	require.Equal(t, "waiting_for_input", WaitingForInput.String())
	require.Equal(t, "processing", Processing.String())
	require.Equal(t, "loading_code", LoadingCode.String())
	require.Equal(t, "finish", Finish.String())
}
