package models

import "time"

// RuntimeFlags is the administrative open/close state of one partition.
type RuntimeFlags struct {
	Partition    Partition  `json:"partition"`
	StartEnabled bool       `json:"start_enabled"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	Banner       string     `json:"banner,omitempty"`
}

// ContactRow is one row of the top-contacts export. Formatting (CSV etc.)
// is left to the caller.
type ContactRow struct {
	Participant      string     `json:"participant"`
	Email            string     `json:"email,omitempty"`
	Score            int        `json:"score"`
	ElapsedMs        int64      `json:"elapsed_ms"`
	FirstFullScoreAt *time.Time `json:"first_full_score_at,omitempty"`
}
