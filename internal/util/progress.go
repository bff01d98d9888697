package util

import (
	"fmt"
	"time"
)

// RunProgress tracks an extraction run. It is not safe for concurrent use;
// the runner updates it under its collector lock.
type RunProgress struct {
	Total     int
	Succeeded int
	Failed    int

	started time.Time
	now     func() time.Time
}

func NewRunProgress(total int) *RunProgress {
	return &RunProgress{Total: total, started: time.Now(), now: time.Now}
}

func (p *RunProgress) Done() int {
	return p.Succeeded + p.Failed
}

// Percentage of documents in a terminal state, 0..100.
func (p *RunProgress) Percentage() int32 {
	if p.Total <= 0 {
		return 100
	}
	return int32(min(p.Done(), p.Total) * 100 / p.Total)
}

func (p *RunProgress) Elapsed() time.Duration {
	return p.now().Sub(p.started)
}

// Remaining extrapolates from the mean time per finished document. It
// returns 0 until at least one document finished.
func (p *RunProgress) Remaining() time.Duration {
	done := p.Done()
	if done == 0 || done >= p.Total {
		return 0
	}
	per := p.Elapsed() / time.Duration(done)
	return per * time.Duration(p.Total-done)
}

// ShouldReport is true every step documents and for the last one.
func (p *RunProgress) ShouldReport(step int) bool {
	done := p.Done()
	if step <= 0 {
		step = 1
	}
	return done == p.Total || done%step == 0
}

func (p *RunProgress) String() string {
	return fmt.Sprintf("%d/%d (%d%%, %d failed)", p.Done(), p.Total, p.Percentage(), p.Failed)
}
