package turn

import "fmt"

// Unbounded disables the skip cap.
const Unbounded = -1

// Decision is what the coordinator does after a turn.
type Decision struct {
	// Continue runs another model turn without user input.
	Continue bool
	// Warning, when set, is injected as a system message before that turn.
	Warning string
}

// SkipPolicy counts consecutive model turns that ran without user input.
// It is only used by the coordinator goroutine.
type SkipPolicy struct {
	max   int
	count int
}

// NewSkipPolicy creates a policy allowing max consecutive skips; Unbounded
// (-1) means no cap.
func NewSkipPolicy(max int) *SkipPolicy {
	if max < Unbounded {
		max = Unbounded
	}
	return &SkipPolicy{max: max}
}

// Count returns the current number of consecutive skips.
func (p *SkipPolicy) Count() int {
	return p.count
}

// Max returns the cap.
func (p *SkipPolicy) Max() int {
	return p.max
}

// Reset clears the counter, e.g. after real user input.
func (p *SkipPolicy) Reset() {
	p.count = 0
}

// Next decides whether to skip user input after a turn. forceStop (the model
// said <end>) always hands control back.
func (p *SkipPolicy) Next(skipRequested, forceStop bool) Decision {
	switch {
	case forceStop || !skipRequested:
		p.count = 0
		return Decision{}
	case p.max == Unbounded:
		p.count++
		return Decision{Continue: true}
	case p.count < p.max:
		p.count++
		d := Decision{Continue: true}
		if p.count > p.max/2 {
			d.Warning = fmt.Sprintf("已连续 %d 轮跳过用户输入，最多允许 %d 轮，剩余 %d 轮。请尽快完成当前任务，必要时使用 <end> 把控制权交还给用户。",
				p.count, p.max, p.max-p.count)
		}
		return d
	default:
		p.count = 0
		return Decision{}
	}
}
