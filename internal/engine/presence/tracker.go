package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/models"
)

// DefaultHorizon is the liveness horizon: a connection that has not
// heartbeated within it is dropped from the online count.
const DefaultHorizon = 30 * time.Second

// Tracker maintains a live count of connected participants from ephemeral
// heartbeat records. It is entirely in-memory and advisory: nothing else in
// the system makes correctness decisions from it.
type Tracker struct {
	clock   clockwork.Clock
	horizon time.Duration

	mu      sync.Mutex
	records map[string]models.PresenceRecord
}

// NewTracker creates a tracker with the given liveness horizon.
func NewTracker(clock clockwork.Clock, horizon time.Duration) *Tracker {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Tracker{
		clock:   clock,
		horizon: horizon,
		records: make(map[string]models.PresenceRecord),
	}
}

// Heartbeat asserts liveness for a connection.
func (t *Tracker) Heartbeat(connectionID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[connectionID] = models.PresenceRecord{
		ConnectionID: connectionID,
		Name:         name,
		LastSeen:     t.clock.Now(),
	}
}

// Disconnect removes a connection immediately.
func (t *Tracker) Disconnect(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, connectionID)
}

// Count returns the number of connections seen within the horizon.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(t.clock.Now())
	return len(t.records)
}

// Run sweeps expired records periodically until ctx is cancelled. Count
// sweeps inline as well; the loop just keeps the map from holding dead
// records between reads.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.horizon)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("presence tracker stopped")
			return
		case <-ticker.Chan():
			t.mu.Lock()
			t.sweepLocked(t.clock.Now())
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) sweepLocked(now time.Time) {
	cutoff := now.Add(-t.horizon)
	for id, rec := range t.records {
		if rec.LastSeen.Before(cutoff) {
			delete(t.records, id)
		}
	}
}
