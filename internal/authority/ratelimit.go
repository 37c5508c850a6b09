package authority

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// submitLimits enforces the minimum inter-submission interval per run. Each
// run gets its own limiter, so partitions and participants never throttle
// each other.
type submitLimits struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

func newSubmitLimits(interval time.Duration) *submitLimits {
	return &submitLimits{
		interval: interval,
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
}

// allow reports whether a submission for the run may proceed at now. A
// rejected call consumes nothing.
func (l *submitLimits) allow(runID uuid.UUID, now time.Time) bool {
	l.mu.Lock()
	lim, ok := l.limiters[runID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[runID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// forget drops a run's limiter once the run can no longer submit.
func (l *submitLimits) forget(runID uuid.UUID) {
	l.mu.Lock()
	delete(l.limiters, runID)
	l.mu.Unlock()
}
