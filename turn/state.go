// Package turn coordinates user input, model streaming and tool dispatch.
//
// Information Hiding:
// - Condition-variable broadcast hidden behind StateMachine
// - Context cancellation of waits hidden (context.AfterFunc wakes waiters)
// - Turn and init state enums are the only shared vocabulary
package turn

import (
	"context"
	"sync"
)

// TurnState is the conversation turn state.
type TurnState int

// Turn states.
const (
	WaitingForInput TurnState = iota
	FinishInput
	Processing
)

func (s TurnState) String() string {
	switch s {
	case WaitingForInput:
		return "waiting_for_input"
	case FinishInput:
		return "finish_input"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// InitState is the startup progress.
type InitState int

// Init states, in the order startup walks them.
const (
	Starting InitState = iota
	LoadingConfig
	CheckingSource
	LoadingHistory
	LoadingReference
	LoadingCode
	Finish
)

func (s InitState) String() string {
	switch s {
	case Starting:
		return "starting"
	case LoadingConfig:
		return "loading_config"
	case CheckingSource:
		return "checking_source"
	case LoadingHistory:
		return "loading_history"
	case LoadingReference:
		return "loading_reference"
	case LoadingCode:
		return "loading_code"
	case Finish:
		return "finish"
	default:
		return "unknown"
	}
}

// StateMachine holds a state value and lets any number of goroutines wait
// for it to change. Every transition wakes every waiter.
type StateMachine[S comparable] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state S
}

// NewStateMachine creates a machine in the initial state.
func NewStateMachine[S comparable](initial S) *StateMachine[S] {
	m := &StateMachine[S]{state: initial}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Get returns the current state.
func (m *StateMachine[S]) Get() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Set moves to state and wakes all waiters.
func (m *StateMachine[S]) Set(state S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.cond.Broadcast()
}

// Transition moves from one state to another atomically. during, when not
// nil, runs under the lock before waiters wake. It reports whether the
// machine was in from.
func (m *StateMachine[S]) Transition(from, to S, during func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	if during != nil {
		during()
	}
	m.state = to
	m.cond.Broadcast()
	return true
}

// WaitFor blocks until the state equals target or ctx is done.
func (m *StateMachine[S]) WaitFor(ctx context.Context, target S) error {
	_, err := m.WaitUntil(ctx, func(s S) bool { return s == target })
	return err
}

// WaitUntil blocks until ready returns true for the current state or ctx is
// done, and returns the state it observed.
func (m *StateMachine[S]) WaitUntil(ctx context.Context, ready func(S) bool) (S, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for !ready(m.state) {
		if err := ctx.Err(); err != nil {
			return m.state, err
		}
		m.cond.Wait()
	}
	return m.state, nil
}
