package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewTabID generates a new ULID string for use as a tab identifier.
func NewTabID() string {
	return ulid.Make().String()
}

// Tab is the persisted record of an open tab.
type Tab struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Position   int       `json:"position"`
	Active     bool      `json:"active"`
	Hibernated bool      `json:"hibernated"`
	LastAccess time.Time `json:"last_access"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdleFor reports how long the tab has gone untouched as of now.
func (t *Tab) IdleFor(now time.Time) time.Duration {
	if t.LastAccess.IsZero() {
		return 0
	}
	return now.Sub(t.LastAccess)
}

// ShouldHibernate reports whether a running tab has been idle for at
// least after.
func (t *Tab) ShouldHibernate(now time.Time, after time.Duration) bool {
	return !t.Hibernated && after > 0 && t.IdleFor(now) >= after
}
