package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/tabhost/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestTab(position int) *models.Tab {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Tab{
		ID:         models.NewTabID(),
		URL:        "https://example.com/inspection",
		Title:      "Inspection",
		Position:   position,
		Active:     true,
		LastAccess: now,
		CreatedAt:  now,
	}
}

func TestSaveAndGetTab(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tab := makeTestTab(0)

	require.NoError(t, s.SaveTab(ctx, tab))

	got, err := s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, tab.ID, got.ID)
	assert.Equal(t, tab.URL, got.URL)
	assert.Equal(t, tab.Title, got.Title)
	assert.True(t, got.Active)
	assert.False(t, got.Hibernated)
	assert.True(t, tab.LastAccess.Equal(got.LastAccess), "last_access = %v, want %v", got.LastAccess, tab.LastAccess)
	assert.True(t, tab.CreatedAt.Equal(got.CreatedAt))
}

func TestGetTabNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTab(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTabUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tab := makeTestTab(0)
	require.NoError(t, s.SaveTab(ctx, tab))

	tab.URL = "https://example.com/other"
	tab.Hibernated = true
	require.NoError(t, s.SaveTab(ctx, tab))

	got, err := s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/other", got.URL)
	assert.True(t, got.Hibernated)

	all, err := s.ListTabs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListTabsOrderedByPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	third := makeTestTab(2)
	first := makeTestTab(0)
	second := makeTestTab(1)
	for _, tab := range []*models.Tab{third, first, second} {
		require.NoError(t, s.SaveTab(ctx, tab))
	}

	tabs, err := s.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 3)
	assert.Equal(t, first.ID, tabs[0].ID)
	assert.Equal(t, second.ID, tabs[1].ID)
	assert.Equal(t, third.ID, tabs[2].ID)
}

func TestListTabsEmpty(t *testing.T) {
	s := newTestStore(t)

	tabs, err := s.ListTabs(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tabs)
	assert.Empty(t, tabs)
}

func TestDeleteTab(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tab := makeTestTab(0)
	require.NoError(t, s.SaveTab(ctx, tab))

	require.NoError(t, s.DeleteTab(ctx, tab.ID))
	_, err := s.GetTab(ctx, tab.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteTab(ctx, tab.ID), ErrNotFound)
}

func TestSetHibernated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tab := makeTestTab(0)
	require.NoError(t, s.SaveTab(ctx, tab))

	require.NoError(t, s.SetHibernated(ctx, tab.ID, true))
	got, err := s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.True(t, got.Hibernated)

	require.NoError(t, s.SetHibernated(ctx, tab.ID, false))
	got, err = s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.False(t, got.Hibernated)

	assert.ErrorIs(t, s.SetHibernated(ctx, "missing", true), ErrNotFound)
}

func TestTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tab := makeTestTab(0)
	require.NoError(t, s.SaveTab(ctx, tab))

	later := tab.LastAccess.Add(5 * time.Minute)
	require.NoError(t, s.Touch(ctx, tab.ID, "", "", later))

	got, err := s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastAccess))
	assert.Equal(t, tab.URL, got.URL, "empty url keeps the stored one")
	assert.Equal(t, tab.Title, got.Title)

	require.NoError(t, s.Touch(ctx, tab.ID, "https://example.com/next", "Next", later))
	got, err = s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/next", got.URL)
	assert.Equal(t, "Next", got.Title)

	assert.ErrorIs(t, s.Touch(ctx, "missing", "", "", later), ErrNotFound)
}

func TestNextPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next, err := s.NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	require.NoError(t, s.SaveTab(ctx, makeTestTab(4)))
	require.NoError(t, s.SaveTab(ctx, makeTestTab(1)))

	next, err = s.NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}
