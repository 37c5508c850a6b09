package leaderboard

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quizrun/quizrun/internal/models"
)

type fakeSearcher struct {
	mu      sync.Mutex
	calls   int
	lastQ   string
	results []models.RankedEntry
}

func (f *fakeSearcher) Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQ = query
	return f.results, nil
}

func TestLocatorSearchRecordsOpenQuery(t *testing.T) {
	fake := &fakeSearcher{results: []models.RankedEntry{{Rank: 7}}}
	l := NewLocator(fake, NewCache(10), clockwork.NewFakeClock())

	rows, err := l.Search(context.Background(), models.PartitionMain, "ash")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 || rows[0].Rank != 7 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if q, ok := l.OpenQuery(models.PartitionMain); !ok || q != "ash" {
		t.Fatalf("open query = %q/%v, want ash/true", q, ok)
	}
	if _, ok := l.OpenQuery(models.PartitionPractice); ok {
		t.Fatal("query must be scoped to its partition")
	}
}

func TestLocatorRerunAndClear(t *testing.T) {
	fake := &fakeSearcher{}
	l := NewLocator(fake, NewCache(10), clockwork.NewFakeClock())

	if _, open, err := l.Rerun(context.Background(), models.PartitionMain); err != nil || open {
		t.Fatalf("rerun with no open query: open=%v err=%v", open, err)
	}

	if _, err := l.Search(context.Background(), models.PartitionMain, "mist"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, open, err := l.Rerun(context.Background(), models.PartitionMain); err != nil || !open {
		t.Fatalf("rerun with open query: open=%v err=%v", open, err)
	}
	if fake.calls != 2 {
		t.Fatalf("searcher calls = %d, want 2", fake.calls)
	}

	l.Clear(models.PartitionMain)
	if _, open, _ := l.Rerun(context.Background(), models.PartitionMain); open {
		t.Fatal("cleared query must not re-run")
	}
}

func TestJumpToComputesPageAndHighlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewCache(10)
	l := NewLocator(&fakeSearcher{}, cache, clock)
	runID := uuid.New()

	tests := []struct {
		rank int
		want int
	}{
		{1, 0},
		{10, 0},
		{11, 1},
		{42, 4},
	}
	for _, tt := range tests {
		if got := l.JumpTo(models.PartitionMain, tt.rank, runID); got != tt.want {
			t.Errorf("JumpTo(rank=%d) = page %d, want %d", tt.rank, got, tt.want)
		}
		if cache.PageIndex(models.PartitionMain) != tt.want {
			t.Errorf("cache page index not updated for rank %d", tt.rank)
		}
	}

	if id, ok := l.Highlighted(models.PartitionMain); !ok || id != runID {
		t.Fatal("entry should be highlighted after jump")
	}
	clock.Advance(HighlightTTL + 1)
	if _, ok := l.Highlighted(models.PartitionMain); ok {
		t.Fatal("highlight must expire")
	}
}
