package models

import "time"

// PresenceRecord is an ephemeral liveness marker for one connection. It is
// advisory only and never persisted.
type PresenceRecord struct {
	ConnectionID string    `json:"connection_id"`
	Name         string    `json:"name,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}
