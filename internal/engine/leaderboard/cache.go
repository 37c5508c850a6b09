package leaderboard

import (
	"sync"

	"github.com/quizrun/quizrun/internal/models"
)

// Cache holds the last known leaderboard page per partition plus the total
// row count. Pages are replaced wholesale: ranks shift globally on every
// correct submission anywhere in a partition, so patching a cached page
// incrementally would be unsound. A page, once stored, is treated as
// immutable; readers get the pointer to the current snapshot and can never
// observe a torn page.
type Cache struct {
	mu        sync.RWMutex
	pageSize  int
	pages     map[models.Partition]*models.LeaderboardPage
	pageIndex map[models.Partition]int
}

// NewCache creates a cache with a fixed page size.
func NewCache(pageSize int) *Cache {
	return &Cache{
		pageSize:  pageSize,
		pages:     make(map[models.Partition]*models.LeaderboardPage),
		pageIndex: make(map[models.Partition]int),
	}
}

// PageSize returns the fixed page size.
func (c *Cache) PageSize() int {
	return c.pageSize
}

// Replace installs a freshly fetched page as the partition's snapshot.
func (c *Cache) Replace(page *models.LeaderboardPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[page.Partition] = page
}

// Page returns the current snapshot for a partition, or nil before the
// first refresh. Callers must not mutate the returned page.
func (c *Cache) Page(partition models.Partition) *models.LeaderboardPage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pages[partition]
}

// PageIndex returns the page the caller is currently viewing.
func (c *Cache) PageIndex(partition models.Partition) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pageIndex[partition]
}

// SetPageIndex records a navigation. The next refresh fetches this page.
func (c *Cache) SetPageIndex(partition models.Partition, index int) {
	if index < 0 {
		index = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageIndex[partition] = index
}

// TotalPages derives the page count from the last known total row count.
func (c *Cache) TotalPages(partition models.Partition) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	page, ok := c.pages[partition]
	if !ok || page.TotalCount == 0 {
		return 0
	}
	return (page.TotalCount + c.pageSize - 1) / c.pageSize
}
