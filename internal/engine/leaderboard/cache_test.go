package leaderboard

import (
	"testing"

	"github.com/quizrun/quizrun/internal/models"
)

func page(partition models.Partition, index, size, total int) *models.LeaderboardPage {
	return &models.LeaderboardPage{
		Partition:  partition,
		PageIndex:  index,
		PageSize:   size,
		TotalCount: total,
	}
}

func TestCacheReplaceIsWholesale(t *testing.T) {
	c := NewCache(10)

	first := page(models.PartitionMain, 0, 10, 25)
	first.Entries = []models.LeaderboardEntry{entry("ash", 5, 1000, false)}
	c.Replace(first)

	second := page(models.PartitionMain, 0, 10, 26)
	second.Entries = []models.LeaderboardEntry{entry("misty", 6, 900, false)}
	c.Replace(second)

	got := c.Page(models.PartitionMain)
	if got != second {
		t.Fatal("cache must hold the latest snapshot pointer")
	}
	if len(got.Entries) != 1 || got.Entries[0].Participant != "misty" {
		t.Fatal("page contents must be the replacement, not a merge")
	}
}

func TestCachePartitionsAreIndependent(t *testing.T) {
	c := NewCache(10)
	c.Replace(page(models.PartitionMain, 0, 10, 5))

	if c.Page(models.PartitionPractice) != nil {
		t.Fatal("practice page must be unaffected by main refreshes")
	}
	c.SetPageIndex(models.PartitionPractice, 3)
	if c.PageIndex(models.PartitionMain) != 0 {
		t.Fatal("page navigation must not leak across partitions")
	}
}

func TestCacheTotalPages(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{0, 0},
		{1, 1},
		{10, 1},
		{11, 2},
		{25, 3},
	}
	for _, tt := range tests {
		c := NewCache(10)
		c.Replace(page(models.PartitionMain, 0, 10, tt.total))
		if got := c.TotalPages(models.PartitionMain); got != tt.want {
			t.Errorf("TotalPages(total=%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}
