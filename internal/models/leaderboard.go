package models

import (
	"github.com/google/uuid"
)

// LeaderboardEntry is a read-only projection of a run as reported by the
// contest authority. Ordering is always derived, never stored.
type LeaderboardEntry struct {
	RunID       uuid.UUID `json:"run_id"`
	Participant string    `json:"participant"`
	Score       int       `json:"score"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	IsWinner    bool      `json:"is_winner"`
}

// RankedEntry is a leaderboard entry with its absolute rank, as returned by
// authority-side search.
type RankedEntry struct {
	Rank int `json:"rank"`
	LeaderboardEntry
}

// LeaderboardPage is one page of ranked entries for a partition plus the
// total row count for pagination.
type LeaderboardPage struct {
	Partition  Partition          `json:"partition"`
	PageIndex  int                `json:"page_index"`
	PageSize   int                `json:"page_size"`
	Entries    []LeaderboardEntry `json:"entries"`
	TotalCount int                `json:"total_count"`
}
