package presence

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCountTracksHeartbeats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, 10*time.Second)

	tr.Heartbeat("c1", "ash")
	tr.Heartbeat("c2", "misty")
	tr.Heartbeat("c1", "ash") // refresh, not a duplicate
	if got := tr.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestExpiredConnectionsDropOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, 10*time.Second)

	tr.Heartbeat("c1", "ash")
	clock.Advance(6 * time.Second)
	tr.Heartbeat("c2", "misty")
	clock.Advance(6 * time.Second)

	// c1 is past the horizon, c2 is not.
	if got := tr.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	// A fresh heartbeat revives an expired connection.
	tr.Heartbeat("c1", "ash")
	if got := tr.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestDisconnectIsImmediate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, 10*time.Second)

	tr.Heartbeat("c1", "ash")
	tr.Disconnect("c1")
	if got := tr.Count(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}
