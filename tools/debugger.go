package tools

import (
	"context"
	"errors"
)

// DebugStarter launches a debug sub-loop in the background.
type DebugStarter interface {
	// Start returns once the loop is running or failed to start.
	Start(args DebugArgs) error
}

// DebuggerTool hands the conversation to the debug sub-loop.
type DebuggerTool struct {
	starter DebugStarter
	flags   *Flags
}

// NewDebuggerTool creates a debugger tool.
func NewDebuggerTool(starter DebugStarter, flags *Flags) *DebuggerTool {
	return &DebuggerTool{starter: starter, flags: flags}
}

// Kind returns KindDebugger.
func (t *DebuggerTool) Kind() Kind { return KindDebugger }

// Execute marks the input as occupied and starts the sub-loop. The flag is
// cleared again by the sub-loop when it ends, or here when it cannot start.
func (t *DebuggerTool) Execute(ctx context.Context, inv Invocation, _ Batch) Result {
	args, ok := inv.Payload.(DebugArgs)
	if !ok {
		return debuggerFailed(Errorf(ErrInvalidArgument, "invalid debugger payload %T", inv.Payload))
	}
	if args.Description == "" {
		return debuggerFailed(Errorf(ErrInvalidArgument, "调试任务描述为空"))
	}

	t.flags.SetOccupy(true)
	if err := t.starter.Start(args); err != nil {
		t.flags.SetOccupy(false)
		var toolErr *Error
		if !errors.As(err, &toolErr) {
			err = Errorf(ErrExecutionFault, "%v", err)
		}
		return debuggerFailed(err)
	}
	return Result{UserMessage: "调试器启动"}
}

func debuggerFailed(err error) Result {
	return Result{
		UserMessage:   "调试器错误: " + err.Error(),
		ModelFeedback: "failed",
		Err:           err,
	}
}
