package llm

import (
	"sync"
	"time"
)

// hourlyLimiter enforces an in-process calls-per-hour ceiling using a sliding
// window of call timestamps. Exceeding the ceiling fails fast; nothing queues.
type hourlyLimiter struct {
	mu      sync.Mutex
	ceiling int
	calls   []time.Time
	now     func() time.Time
}

func newHourlyLimiter(ceiling int) *hourlyLimiter {
	return &hourlyLimiter{ceiling: ceiling, now: time.Now}
}

// Allow records a call attempt and reports whether it is within the ceiling.
// A ceiling of zero or less disables limiting.
func (l *hourlyLimiter) Allow() bool {
	if l.ceiling <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-time.Hour)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) >= l.ceiling {
		return false
	}
	l.calls = append(l.calls, l.now())
	return true
}
