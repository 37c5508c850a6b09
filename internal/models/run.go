package models

import (
	"time"

	"github.com/google/uuid"
)

// Partition identifies an isolated contest instance. The scored main
// contest and the unscored practice run never share sessions, leaderboards
// or rate limits.
type Partition string

const (
	PartitionMain     Partition = "main"
	PartitionPractice Partition = "practice"
)

// Valid reports whether p is a known partition.
func (p Partition) Valid() bool {
	return p == PartitionMain || p == PartitionPractice
}

// Run represents one participant's attempt at the contest.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Partition   Partition  `json:"partition"`
	Participant string     `json:"participant"`
	Email       string     `json:"email,omitempty"`
	ReclaimCode string     `json:"reclaim_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Score       int        `json:"score"`
	IsWinner    bool       `json:"is_winner"`
}

// Finished reports whether the run has a finish time.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// QuestionSlot is one question within a run: its display order, the option
// permutation shown to this participant, the current selection and whether
// the slot is locked (answered correctly and confirmed by the authority).
type QuestionSlot struct {
	QuestionID uuid.UUID `json:"question_id"`
	Order      int       `json:"order"`
	Text       string    `json:"text"`
	Options    []string  `json:"options"`
	Selected   *int      `json:"selected,omitempty"`
	Locked     bool      `json:"locked"`
}
