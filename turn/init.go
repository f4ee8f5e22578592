package turn

import (
	"context"
	"fmt"
)

// InitStep is one stage of startup.
type InitStep struct {
	State InitState
	Run   func(ctx context.Context) error
}

// RunInit walks steps in order, publishing each state before its step
// runs, and ends in Finish. It stops at the first failing step.
func (c *Coordinator) RunInit(ctx context.Context, steps ...InitStep) error {
	c.init.Set(Starting)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.init.Set(step.State)
		if step.Run == nil {
			continue
		}
		if err := step.Run(ctx); err != nil {
			return fmt.Errorf("failed at %s: %w", step.State, err)
		}
	}
	c.init.Set(Finish)
	return nil
}

// WaitReady blocks until startup finished.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	return c.init.WaitFor(ctx, Finish)
}
