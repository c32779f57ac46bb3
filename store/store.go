// Package store persists tab records so open tabs survive a restart.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/tabhost/models"
)

// ErrNotFound is returned when a tab record does not exist.
var ErrNotFound = errors.New("tab not found")

// Store defines the persistence operations for tab records.
type Store interface {
	// SaveTab inserts or replaces a tab record.
	SaveTab(ctx context.Context, t *models.Tab) error
	GetTab(ctx context.Context, id string) (*models.Tab, error)
	// ListTabs returns every tab ordered by position, then creation time.
	ListTabs(ctx context.Context) ([]*models.Tab, error)
	DeleteTab(ctx context.Context, id string) error
	SetHibernated(ctx context.Context, id string, hibernated bool) error
	// Touch records an access and optionally a new URL and title. Empty
	// url or title leave the stored value unchanged.
	Touch(ctx context.Context, id, url, title string, at time.Time) error
	// NextPosition returns one past the highest stored position.
	NextPosition(ctx context.Context) (int, error)
	Close() error
}
