package scalemap

import (
	"time"
)

// pressureTracker counts removals since the last insertion of a new key or
// the last shrink evaluation, and remembers when the first of them happened.
// A zero windowStart means no window is open.
type pressureTracker struct {
	removeCount int
	windowStart time.Time
}

// onRemove records one removal at now, opening a window if none is open.
func (p *pressureTracker) onRemove(now time.Time) {
	if p.removeCount == 0 {
		p.windowStart = now
	}
	p.removeCount++
}

// onInsertNewKey restarts tracking: the workload is not purely draining.
func (p *pressureTracker) onInsertNewKey() {
	p.reset()
}

func (p *pressureTracker) reset() {
	p.removeCount = 0
	p.windowStart = time.Time{}
}

// elapsed returns how long the current window has been open.
func (p *pressureTracker) elapsed(now time.Time) time.Duration {
	if p.windowStart.IsZero() {
		return 0
	}
	return now.Sub(p.windowStart)
}
