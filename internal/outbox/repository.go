package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/quizrun/quizrun/internal/models"
)

// ErrEventNotFound means the event does not exist or was already sent.
var ErrEventNotFound = errors.New("outbox event not found or already sent")

// Repository reads and settles contest outbox rows. It runs on the same
// database/sql connection the LISTEN relay uses.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FetchEventByID returns one unsent event.
func (r *Repository) FetchEventByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, partition, event_type, payload, created_at
		 FROM contest_outbox WHERE id = $1 AND sent_at IS NULL`,
		id,
	)
	var event Event
	var partition string
	err := row.Scan(&event.ID, &partition, &event.EventType, &event.Payload, &event.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	event.Partition = models.Partition(partition)
	return &event, nil
}

// FetchUnsent returns up to limit unsent events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, partition, event_type, payload, created_at
		 FROM contest_outbox WHERE sent_at IS NULL
		 ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var partition string
		if err := rows.Scan(&event.ID, &partition, &event.EventType, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.Partition = models.Partition(partition)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox events: %w", err)
	}
	return events, nil
}

// MarkSent stamps an event as delivered.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contest_outbox SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}
