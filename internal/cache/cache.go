// Package cache is the general request cache for ordinary read queries,
// distinct from the record store. Stale entries keep serving instantly
// while a refetch runs in the background; repeated fetch failures back off
// exponentially, unlike action retries which are a flat count.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backoff bounds for failed refetches.
const (
	baseBackoff = time.Second
	maxBackoff  = 2 * time.Minute
)

// ErrBackoff is returned for a cold miss whose previous fetch failed and
// whose backoff window has not elapsed yet.
var ErrBackoff = errors.New("cache: refetch backing off")

// FetchFunc loads a query result from the remote service.
type FetchFunc func(ctx context.Context) (any, error)

// Stats summarizes cache health for diagnostic screens.
type Stats struct {
	Total  int
	Fresh  int
	Stale  int
	Errors int
}

type entry struct {
	data       any
	hasData    bool
	fetchedAt  time.Time
	stale      bool
	errCount   int
	retryAfter time.Time
	refreshing bool
}

// Cache is a read-through query cache with TTL freshness.
type Cache struct {
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a cache whose entries stay fresh for ttl.
func New(ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Get returns the cached value for key, fetching on miss. A stale entry is
// returned immediately while a background refetch refreshes it. Fetch
// errors back off exponentially; during the backoff window stale data is
// served without a new attempt.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	now := c.now()

	if e.hasData && !e.stale && now.Sub(e.fetchedAt) < c.ttl {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}

	if e.hasData {
		// Serve stale instantly; refresh in the background unless one is
		// already running or the backoff window is still open.
		data := e.data
		if !e.refreshing && now.After(e.retryAfter) {
			e.refreshing = true
			go c.refresh(key, fetch)
		}
		c.mu.Unlock()
		return data, nil
	}

	if now.Before(e.retryAfter) {
		c.mu.Unlock()
		return nil, ErrBackoff
	}
	c.mu.Unlock()

	// Cold miss: fetch synchronously.
	data, err := fetch(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.recordError(key, e, err)
		return nil, err
	}
	c.store(e, data)
	return data, nil
}

func (c *Cache) refresh(key string, fetch FetchFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	data, err := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return // cleared while refreshing
	}
	e.refreshing = false
	if err != nil {
		c.recordError(key, e, err)
		return
	}
	c.store(e, data)
}

// store and recordError run with c.mu held.
func (c *Cache) store(e *entry, data any) {
	e.data = data
	e.hasData = true
	e.fetchedAt = c.now()
	e.stale = false
	e.errCount = 0
	e.retryAfter = time.Time{}
}

func (c *Cache) recordError(key string, e *entry, err error) {
	e.errCount++
	backoff := baseBackoff << (e.errCount - 1)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	e.retryAfter = c.now().Add(backoff)
	c.logger.Warn("query refetch failed",
		zap.String("key", key),
		zap.Int("consecutive_errors", e.errCount),
		zap.Duration("retry_in", backoff),
		zap.Error(err))
}

// Stats counts total, fresh, stale and erroring entries.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st Stats
	now := c.now()
	for _, e := range c.entries {
		st.Total++
		switch {
		case e.errCount > 0:
			st.Errors++
		case e.hasData && !e.stale && now.Sub(e.fetchedAt) < c.ttl:
			st.Fresh++
		default:
			st.Stale++
		}
	}
	return st
}

// InvalidateAll marks every entry stale without dropping its data, so the
// next read serves instantly while a refetch runs.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.stale = true
	}
}

// ClearAll drops every cached query outright.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}
