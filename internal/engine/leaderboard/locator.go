package leaderboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quizrun/quizrun/internal/models"
)

// Searcher is what the locator needs from the contest authority: a query
// over the full ordered set, independent of the cached page.
type Searcher interface {
	Search(ctx context.Context, partition models.Partition, query string, limit, offset int) ([]models.RankedEntry, error)
}

const defaultSearchLimit = 20

// Locator maps a name fragment to rank positions and jumps the cached view
// to the page containing a given rank. Results go stale the moment a
// refresh completes elsewhere; the sync scheduler re-runs the open query
// after each refresh it performs.
type Locator struct {
	searcher Searcher
	cache    *Cache
	clock    clockwork.Clock

	mu        sync.Mutex
	open      map[models.Partition]string
	highlight map[models.Partition]highlightMark
}

type highlightMark struct {
	runID   uuid.UUID
	expires time.Time
}

// HighlightTTL is how long a located entry stays highlighted.
const HighlightTTL = 3 * time.Second

// NewLocator creates a locator bound to a cache.
func NewLocator(searcher Searcher, cache *Cache, clock clockwork.Clock) *Locator {
	return &Locator{
		searcher:  searcher,
		cache:     cache,
		clock:     clock,
		open:      make(map[models.Partition]string),
		highlight: make(map[models.Partition]highlightMark),
	}
}

// Search queries the authority and records the query as open for the
// partition, so the scheduler can re-run it after refreshes.
func (l *Locator) Search(ctx context.Context, partition models.Partition, query string) ([]models.RankedEntry, error) {
	rows, err := l.searcher.Search(ctx, partition, query, defaultSearchLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	l.mu.Lock()
	l.open[partition] = query
	l.mu.Unlock()
	return rows, nil
}

// Rerun re-issues the open query for a partition, if any.
func (l *Locator) Rerun(ctx context.Context, partition models.Partition) ([]models.RankedEntry, bool, error) {
	l.mu.Lock()
	query, ok := l.open[partition]
	l.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	rows, err := l.searcher.Search(ctx, partition, query, defaultSearchLimit, 0)
	if err != nil {
		return nil, true, fmt.Errorf("rerun search %q: %w", query, err)
	}
	return rows, true, nil
}

// Clear forgets the open query for a partition.
func (l *Locator) Clear(partition models.Partition) {
	l.mu.Lock()
	delete(l.open, partition)
	l.mu.Unlock()
}

// OpenQuery returns the partition's open query, if any.
func (l *Locator) OpenQuery(partition models.Partition) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.open[partition]
	return q, ok
}

// JumpTo computes the page containing rank, points the cached view at it
// and marks the entry for a transient highlight. It returns the page index;
// the caller triggers the refresh that actually fetches the page.
func (l *Locator) JumpTo(partition models.Partition, rank int, runID uuid.UUID) int {
	if rank < 1 {
		rank = 1
	}
	pageIndex := (rank - 1) / l.cache.PageSize()
	l.cache.SetPageIndex(partition, pageIndex)

	l.mu.Lock()
	l.highlight[partition] = highlightMark{
		runID:   runID,
		expires: l.clock.Now().Add(HighlightTTL),
	}
	l.mu.Unlock()
	return pageIndex
}

// Highlighted returns the run to highlight for a partition, while the mark
// is still fresh.
func (l *Locator) Highlighted(partition models.Partition) (uuid.UUID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mark, ok := l.highlight[partition]
	if !ok || l.clock.Now().After(mark.expires) {
		delete(l.highlight, partition)
		return uuid.Nil, false
	}
	return mark.runID, true
}
