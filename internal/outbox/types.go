package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quizrun/quizrun/internal/models"
)

// Event is one row of the contest outbox: a change in a partition that the
// broker should hear about. Consumers key off the partition; the payload is
// advisory detail.
type Event struct {
	ID        uuid.UUID        `json:"id"`
	Partition models.Partition `json:"partition"`
	EventType string           `json:"event_type"`
	Payload   json.RawMessage  `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
	SentAt    *time.Time       `json:"sent_at,omitempty"`
}
