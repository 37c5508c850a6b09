package gateway

import (
	"encoding/json"
	"time"

	"github.com/quizrun/quizrun/internal/models"
)

// EventType identifies a websocket event pushed to contest clients.
type EventType string

const (
	// EventTypeLeaderboardRefreshed tells clients the partition's standings
	// changed. It carries no rows; clients fetch through their own
	// coalescing schedulers.
	EventTypeLeaderboardRefreshed EventType = "leaderboard_refreshed"
	// EventTypePresenceCount carries the current online count.
	EventTypePresenceCount EventType = "presence_count"
)

// ContestEvent is the wire shape of every gateway push.
type ContestEvent struct {
	Type      EventType        `json:"type"`
	Partition models.Partition `json:"partition"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data,omitempty"`
}

// clientMessage is what clients send upstream. Heartbeats are the only
// message the gateway acts on.
type clientMessage struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

const clientMessageHeartbeat = "heartbeat"

// presenceCountData is the payload of a presence_count event.
type presenceCountData struct {
	Online int `json:"online"`
}
