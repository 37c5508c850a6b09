package authority

import (
	"time"

	"github.com/google/uuid"

	"github.com/quizrun/quizrun/internal/models"
)

// StartRequest asks the authority to create a run for a participant, or to
// resume the active one when a reclaim code is supplied.
type StartRequest struct {
	Partition   models.Partition `json:"partition"`
	Name        string           `json:"name"`
	Email       string           `json:"email,omitempty"`
	ReclaimCode string           `json:"reclaim_code,omitempty"`
}

// StartReply carries the run snapshot. On resume, slots the authority knows
// to be correct come back locked with their previous selection filled in.
type StartReply struct {
	Run       models.Run            `json:"run"`
	Questions []models.QuestionSlot `json:"questions"`
}

// Answer is one submitted selection. SelectedOption indexes into the
// option permutation shown to this participant.
type Answer struct {
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedOption int       `json:"selected_option"`
}

// SubmitRequest grades a batch of answers for a run.
type SubmitRequest struct {
	RunID       uuid.UUID `json:"run_id"`
	ReclaimCode string    `json:"reclaim_code"`
	Answers     []Answer  `json:"answers"`
}

// SubmitReply reports the verdict for one submission. WrongIDs lists only
// submitted questions that were graded incorrect; anything submitted and
// absent from WrongIDs is correct. FinishedAt is set once the run has every
// slot locked and is the single source of truth for elapsed time.
type SubmitReply struct {
	WrongIDs   []uuid.UUID `json:"wrong_ids"`
	Score      int         `json:"score"`
	Rank       int         `json:"rank,omitempty"`
	IsWinner   bool        `json:"is_winner"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
