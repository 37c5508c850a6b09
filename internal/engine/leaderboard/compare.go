package leaderboard

import (
	"sort"

	"github.com/quizrun/quizrun/internal/models"
)

// Less reports whether a ranks strictly ahead of b: winner first, then
// score descending, then elapsed time ascending. Ties beyond that are
// pinned to run id so ordering stays stable across refreshes instead of
// depending on arrival order.
func Less(a, b models.LeaderboardEntry) bool {
	if a.IsWinner != b.IsWinner {
		return a.IsWinner
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.ElapsedMs != b.ElapsedMs {
		return a.ElapsedMs < b.ElapsedMs
	}
	return a.RunID.String() < b.RunID.String()
}

// Sort orders entries by Less.
func Sort(entries []models.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
}
