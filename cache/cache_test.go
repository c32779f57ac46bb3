package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/tabhost/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, maxEntries int) (*Cache, *clock) {
	t.Helper()
	c := New(maxEntries)
	t.Cleanup(c.Close)
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return c, clk
}

func snapshot(content string) *models.SnapshotResponse {
	return &models.SnapshotResponse{Success: true, Format: "markdown", Content: content}
}

func TestKey(t *testing.T) {
	a := Key("t1", "https://a.example", "markdown", "readability", "")
	assert.True(t, strings.HasPrefix(a, "t1:"))
	assert.Equal(t, a, Key("t1", "https://a.example", "markdown", "readability", ""))
	assert.NotEqual(t, a, Key("t1", "https://a.example", "text", "readability", ""))
	assert.NotEqual(t, a, Key("t1", "https://a.example", "markdown", "readability", "main"))
	assert.NotEqual(t, a, Key("t2", "https://a.example", "markdown", "readability", ""))
}

func TestGetRespectsMaxAge(t *testing.T) {
	c, clk := newTestCache(t, 10)
	c.Set("k", "t1", snapshot("hello"))

	got, ok := c.Get("k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)

	_, ok = c.Get("k", 0)
	assert.False(t, ok, "zero max age bypasses the cache")

	clk.advance(2 * time.Minute)
	_, ok = c.Get("k", time.Minute)
	assert.False(t, ok)
	_, ok = c.Get("k", 5*time.Minute)
	assert.True(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Set("k", "t1", snapshot("hello"))

	got, _ := c.Get("k", time.Minute)
	got.Content = "mutated"
	got.CacheStatus = "hit"

	again, _ := c.Get("k", time.Minute)
	assert.Equal(t, "hello", again.Content)
	assert.Empty(t, again.CacheStatus)
}

func TestSetEvictsOldest(t *testing.T) {
	c, clk := newTestCache(t, 2)

	c.Set("a", "t1", snapshot("a"))
	clk.advance(time.Second)
	c.Set("b", "t1", snapshot("b"))
	clk.advance(time.Second)
	c.Set("c", "t2", snapshot("c"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a", time.Hour)
	assert.False(t, ok)
	_, ok = c.Get("c", time.Hour)
	assert.True(t, ok)

	c.Set("c", "t2", snapshot("c2"))
	assert.Equal(t, 2, c.Len(), "overwriting a key does not evict")
}

func TestInvalidateTab(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Set(Key("t1", "u", "markdown", "raw", ""), "t1", snapshot("1"))
	c.Set(Key("t1", "u", "text", "raw", ""), "t1", snapshot("2"))
	c.Set(Key("t2", "u", "text", "raw", ""), "t2", snapshot("3"))

	assert.Equal(t, 2, c.InvalidateTab("t1"))
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.InvalidateTab("t1"))
}

func TestExpireDropsStaleEntries(t *testing.T) {
	c, clk := newTestCache(t, 10)
	c.Set("old", "t1", snapshot("old"))
	clk.advance(90 * time.Minute)
	c.Set("new", "t1", snapshot("new"))

	c.expire()
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new", time.Hour)
	assert.True(t, ok)
}
