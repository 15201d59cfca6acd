package billing

import (
	"amberbalance/pkg/models"
)

// DayCache is a day-keyed store of daily summaries scoped to exactly one
// billing cycle at a time. It is not safe for concurrent use; the engine's
// per-site lock covers it.
type DayCache struct {
	days map[models.Date]models.DailySummary
}

// NewDayCache creates an empty cache.
func NewDayCache() *DayCache {
	return &DayCache{days: make(map[models.Date]models.DailySummary)}
}

// Get returns the cached summary for date, if present.
func (c *DayCache) Get(date models.Date) (models.DailySummary, bool) {
	s, ok := c.days[date]
	return s, ok
}

// PutMany upserts a batch of summaries keyed by their date. A refresh merges
// its freshly aggregated days in a single call so a failed refresh never
// leaves a partial batch behind.
func (c *DayCache) PutMany(summaries map[models.Date]models.DailySummary) {
	for date, s := range summaries {
		c.days[date] = s
	}
}

// RetainRange drops every entry outside the inclusive [start, end] range,
// bounding memory and discarding stale cross-cycle days.
func (c *DayCache) RetainRange(start, end models.Date) {
	for date := range c.days {
		if date.Before(start) || date.After(end) {
			delete(c.days, date)
		}
	}
}

// Reset clears the cache. Called exactly when the computed cycle start
// differs from the cache's remembered one.
func (c *DayCache) Reset() {
	c.days = make(map[models.Date]models.DailySummary)
}

// Latest returns the most recent cached date, if any.
func (c *DayCache) Latest() (models.Date, bool) {
	var latest models.Date
	found := false
	for date := range c.days {
		if !found || date.After(latest) {
			latest = date
			found = true
		}
	}
	return latest, found
}

// Len returns the number of cached days.
func (c *DayCache) Len() int {
	return len(c.days)
}
