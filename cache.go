package beodesk

import (
	"context"
	"sync"
	"time"
)

type weekKey struct {
	year, week int
}

type cachedWeek struct {
	week    Week
	fetched time.Time
}

// WeekCache is an in-memory cache of week boards with TTL. Handlers that
// change documents call Invalidate.
type WeekCache struct {
	mu    sync.RWMutex
	weeks map[weekKey]cachedWeek
	ttl   time.Duration
	cal   *Calendar
}

// NewWeekCache creates a WeekCache backed by the given Calendar.
func NewWeekCache(cal *Calendar, ttl time.Duration) *WeekCache {
	return &WeekCache{cal: cal, ttl: ttl, weeks: make(map[weekKey]cachedWeek)}
}

func (c *WeekCache) lookup(k weekKey) (Week, bool) {
	cw, ok := c.weeks[k]
	if !ok || time.Since(cw.fetched) >= c.ttl {
		return Week{}, false
	}
	return cw.week, true
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *WeekCache) Invalidate() {
	c.mu.Lock()
	c.weeks = make(map[weekKey]cachedWeek)
	c.mu.Unlock()
}

// Week returns the board for an ISO week, loading it on a miss. It tries a
// read lock first and only takes the write lock if a reload is needed.
func (c *WeekCache) Week(ctx context.Context, year, week int) (Week, error) {
	k := weekKey{year, week}
	c.mu.RLock()
	if w, ok := c.lookup(k); ok {
		c.mu.RUnlock()
		return w, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.lookup(k); ok {
		return w, nil
	}
	w, err := c.cal.ListByWeek(ctx, year, week)
	if err != nil {
		return Week{}, err
	}
	c.weeks[k] = cachedWeek{week: w, fetched: time.Now()}
	return w, nil
}
