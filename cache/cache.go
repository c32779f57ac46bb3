// Package cache keeps recent tab snapshots so repeated reads of an unchanged
// tab skip the cleaning pipeline.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/tabhost/models"
)

// entryTTL bounds how long any snapshot is kept regardless of max-age.
const entryTTL = time.Hour

// entry holds a cached snapshot with its owning tab and creation time.
type entry struct {
	tabID     string
	response  *models.SnapshotResponse
	createdAt time.Time
}

// Cache is an in-memory snapshot cache. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Cache holding at most maxEntries snapshots. A background
// goroutine evicts entries older than an hour every five minutes until
// Close is called.
func New(maxEntries int) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: max(1, maxEntries),
		now:        time.Now,
		stopped:    make(chan struct{}),
	}

	go c.cleanupLoop(5 * time.Minute)
	return c
}

// Key builds a cache key for a snapshot of tabID at url in the given format,
// extraction mode and selector. Keys of one tab share its id as prefix.
func Key(tabID, url, format, mode, selector string) string {
	h := sha256.New()
	for _, part := range []string{url, format, mode, selector} {
		h.Write([]byte(part))
		h.Write([]byte("|"))
	}
	return tabID + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached snapshot for key if it is younger than
// maxAge. A non-positive maxAge always misses.
func (c *Cache) Get(key string, maxAge time.Duration) (*models.SnapshotResponse, bool) {
	if maxAge <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.createdAt) > maxAge {
		return nil, false
	}

	resp := *e.response
	return &resp, true
}

// Set stores a snapshot for tabID under key. When the cache is full the
// oldest entry is evicted.
func (c *Cache) Set(key, tabID string, resp *models.SnapshotResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}

	stored := *resp
	c.store[key] = &entry{
		tabID:     tabID,
		response:  &stored,
		createdAt: c.now(),
	}
}

// InvalidateTab drops every snapshot of tabID and returns how many were
// removed. Called whenever the tab navigates, runs script or closes.
func (c *Cache) InvalidateTab(tabID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.store {
		if e.tabID == tabID {
			delete(c.store, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.store {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	delete(c.store, oldestKey)
}

func (c *Cache) expire() {
	cutoff := c.now().Add(-entryTTL)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopped:
			return
		case <-ticker.C:
			c.expire()
		}
	}
}
