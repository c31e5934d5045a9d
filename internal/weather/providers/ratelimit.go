package providers

import (
	"sync"
	"time"
)

const rateWindow = 60 * time.Second

// windowLimiter is a fixed-window request counter. The window restarts once it
// has elapsed since the last reset. The check and increment happen under one
// lock so concurrent callers cannot both pass the last slot.
type windowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	count  int
	reset  time.Time
	now    func() time.Time
}

func newWindowLimiter(max int) *windowLimiter {
	return &windowLimiter{
		max:    max,
		window: rateWindow,
		now:    time.Now,
	}
}

// Allow consumes one slot, reporting false when the window is exhausted.
// A non-positive max disables limiting.
func (l *windowLimiter) Allow() bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.reset.IsZero() || now.Sub(l.reset) >= l.window {
		l.reset = now
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}
