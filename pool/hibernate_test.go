package pool

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHibernateWakeRoundTrip(t *testing.T) {
	p, _ := newTestPool(t, testConfig(3))

	h, err := p.Acquire(context.Background(), "t1")
	require.NoError(t, err)

	p.Hibernator().Hibernate(h)
	assert.Equal(t, StateHibernated, h.State())
	assert.Equal(t, "t1", h.TabID())
	assert.Equal(t, 1, p.ActiveCount())
	got, ok := p.Lookup("t1")
	require.True(t, ok)
	assert.Same(t, h, got)

	p.Hibernator().Wake(h)
	assert.Equal(t, StateRunning, h.State())
	assert.Equal(t, "t1", h.TabID())
	assert.Equal(t, 1, p.ActiveCount())
	assert.Equal(t, 0, p.IdleCount())
}

func TestHibernateSuspendsEngine(t *testing.T) {
	p, _ := newTestPool(t, testConfig(3))

	h, _ := p.Acquire(context.Background(), "t1")
	fake := fakeOf(t, h)
	p.Optimizer().ApplyForeground(h)
	fake.ResetCalls()

	p.Hibernator().Hibernate(h)

	assert.Equal(t, []string{
		"StopLoading",
		"ClearFocus",
		"PauseTimers",
		"SetVisible",
		"SetImageLoadingEnabled",
		"SetHardwareLayer",
	}, fake.Calls())
	st := fake.State()
	assert.True(t, st.Paused)
	assert.False(t, st.Visible)
	assert.False(t, st.Images)
	assert.False(t, st.Hardware)
	assert.False(t, st.Destroyed)
}

func TestHibernateIsNoopUnlessRunning(t *testing.T) {
	p, _ := newTestPool(t, testConfig(3))

	h, _ := p.Acquire(context.Background(), "t1")
	fake := fakeOf(t, h)
	p.Hibernator().Hibernate(h)
	fake.ResetCalls()

	p.Hibernator().Hibernate(h)
	assert.Empty(t, fake.Calls())

	p.Hibernator().Wake(h)
	p.Release("t1")
	fake.ResetCalls()

	p.Hibernator().Hibernate(h)
	assert.Empty(t, fake.Calls())
	assert.Equal(t, StateIdle, h.State())
}

func TestWakeIsNoopUnlessHibernated(t *testing.T) {
	p, _ := newTestPool(t, testConfig(3))

	h, _ := p.Acquire(context.Background(), "t1")
	fake := fakeOf(t, h)

	p.Hibernator().Wake(h)
	assert.Empty(t, fake.Calls())
	assert.Equal(t, StateRunning, h.State())
}

func TestWakeRestoresEngineAndDefersImages(t *testing.T) {
	cfg := testConfig(3)
	cfg.WakeImageDelay = 30 * time.Millisecond
	p, _ := newTestPool(t, cfg)

	h, _ := p.Acquire(context.Background(), "t1")
	fake := fakeOf(t, h)
	p.Hibernator().Hibernate(h)
	fake.ResetCalls()

	p.Hibernator().Wake(h)

	st := fake.State()
	assert.False(t, st.Paused)
	assert.True(t, st.Visible)
	assert.True(t, st.Hardware)
	assert.False(t, st.Images, "images come back after the delay")
	assert.Equal(t, p.Config().Baseline, st.Settings)

	assert.Eventually(t, func() bool {
		return fake.State().Images
	}, time.Second, 5*time.Millisecond)
}

func TestWakeImageTaskDroppedAfterRehibernate(t *testing.T) {
	cfg := testConfig(3)
	cfg.WakeImageDelay = 40 * time.Millisecond
	p, _ := newTestPool(t, cfg)

	h, _ := p.Acquire(context.Background(), "t1")
	fake := fakeOf(t, h)
	p.Hibernator().Hibernate(h)
	p.Hibernator().Wake(h)
	p.Hibernator().Hibernate(h)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fake.State().Images)
	assert.Equal(t, StateHibernated, h.State())
}

func TestHibernateStepFailuresStillTransition(t *testing.T) {
	p, _ := newTestPool(t, testConfig(3))

	h, _ := p.Acquire(context.Background(), "t1")
	fake := fakeOf(t, h)
	fake.FailOn("StopLoading", "PauseTimers", "ResumeTimers", "ApplySettings")

	p.Hibernator().Hibernate(h)
	assert.Equal(t, StateHibernated, h.State())
	assert.Equal(t, 1, fake.CallCount("SetHardwareLayer"))

	p.Hibernator().Wake(h)
	assert.Equal(t, StateRunning, h.State())
}

func TestReleaseOfHibernatedHandleParksIt(t *testing.T) {
	p, f := newTestPool(t, testConfig(3))
	ctx := context.Background()

	h, _ := p.Acquire(ctx, "t1")
	p.Hibernator().Hibernate(h)
	p.Release("t1")
	assert.Equal(t, StateIdle, h.State())

	got, err := p.Acquire(ctx, "t2")
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.Equal(t, 1, f.Created())

	st := fakeOf(t, got).State()
	assert.False(t, st.Paused)
	assert.True(t, st.Visible)
	assert.True(t, st.Hardware)
}

func TestHibernatedGauge(t *testing.T) {
	p, _ := newTestPool(t, testConfig(3))
	ctx := context.Background()

	h1, _ := p.Acquire(ctx, "t1")
	_, _ = p.Acquire(ctx, "t2")
	p.Hibernator().Hibernate(h1)

	assert.Equal(t, float64(1), testutil.ToFloat64(hibernatedEngines))
	assert.Equal(t, float64(2), testutil.ToFloat64(activeEngines))

	p.Hibernator().Wake(h1)
	assert.Equal(t, float64(0), testutil.ToFloat64(hibernatedEngines))
}

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range []string{
		"tabhost_pool_active_engines",
		"tabhost_pool_idle_engines",
		"tabhost_pool_hibernated_engines",
		"tabhost_pool_engines_created_total",
		"tabhost_pool_engines_reused_total",
		"tabhost_pool_engines_destroyed_total",
		"tabhost_pool_trims_total",
	} {
		assert.True(t, found[name], "metric %q not registered", name)
	}
}
