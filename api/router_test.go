package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/tabhost/cache"
	"github.com/use-agent/tabhost/config"
	"github.com/use-agent/tabhost/engine/enginetest"
	"github.com/use-agent/tabhost/models"
	"github.com/use-agent/tabhost/pool"
	"github.com/use-agent/tabhost/store"
	"github.com/use-agent/tabhost/tabs"
)

const (
	testKey  = "test-key"
	panelURL = "https://inspect.example.com/panel"
)

type testServer struct {
	router  *gin.Engine
	factory *enginetest.Factory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := enginetest.NewFactory()
	f.Serve(panelURL, enginetest.Page{
		Title: "Panel",
		HTML:  `<html><head><title>Panel</title></head><body><p>Breaker schedule for building four.</p><form><input name="circuit"></form></body></html>`,
	})

	pcfg := pool.DefaultConfig()
	pcfg.Capacity = 2
	pcfg.TrimInterval = time.Hour
	pcfg.MaintenanceInterval = time.Hour
	pcfg.PostLoadTrimDelay = time.Hour
	p := pool.New(f, pcfg, pool.WithLogger(quiet))
	t.Cleanup(p.Close)

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cc := cache.New(10)
	t.Cleanup(cc.Close)

	svc := tabs.NewService(tabs.Deps{Pool: p, Store: st, Cache: cc}, tabs.DefaultConfig(), tabs.WithLogger(quiet))

	cfg := config.Load()
	cfg.Server.Mode = gin.TestMode
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{testKey}
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testServer{router: NewRouter(ctx, svc, cfg, time.Now()), factory: f}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", testKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 2, resp.Pool.Capacity)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/tabs", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "tabhost_pool_active_engines")
	assert.Contains(t, body, `tabhost_http_requests_total{method="GET",path="/api/v1/tabs",status="200"}`)
}

func TestProtectedRoutesNeedKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tabs", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTabLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/tabs", models.OpenTabRequest{TabID: "screen-1", URL: panelURL})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode[models.TabResponse](t, w)
	assert.Equal(t, "running", opened.Tab.State)
	assert.Equal(t, "Panel", opened.Tab.Title)

	w = s.do(t, http.MethodGet, "/api/v1/tabs/screen-1/snapshot?format=text&max_age=30", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[models.SnapshotResponse](t, w)
	assert.Contains(t, snap.Content, "Breaker schedule")
	assert.Equal(t, "miss", snap.CacheStatus)
	assert.NotNil(t, snap.Timing)

	w = s.do(t, http.MethodGet, "/api/v1/tabs/screen-1/forms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	forms := decode[models.FormsResponse](t, w)
	require.Len(t, forms.Forms, 1)
	assert.Equal(t, "circuit", forms.Forms[0].Fields[0].Name)

	w = s.do(t, http.MethodPost, "/api/v1/tabs/screen-1/hibernate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hibernated", decode[models.TabResponse](t, w).Tab.State)

	w = s.do(t, http.MethodPost, "/api/v1/tabs/screen-1/wake", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode[models.TabResponse](t, w).Tab.State)

	hidden := false
	w = s.do(t, http.MethodPost, "/api/v1/tabs/screen-1/visibility", models.VisibilityRequest{Visible: &hidden})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.TabResponse](t, w).Tab.Active)

	w = s.do(t, http.MethodPost, "/api/v1/tabs/screen-1/eval", models.EvalRequest{Script: "() => 1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.EvalResponse](t, w).Success)

	w = s.do(t, http.MethodGet, "/api/v1/tabs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.TabListResponse](t, w).Tabs, 1)

	w = s.do(t, http.MethodDelete, "/api/v1/tabs/screen-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/tabs/screen-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.ErrCodeTabNotFound, decode[models.ErrorResponse](t, w).Error.Code)
}

func TestOpenWithoutBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tabs", nil)
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decode[models.TabResponse](t, w).Tab.ID, 26)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/tabs", models.OpenTabRequest{TabID: "t1"})

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/v1/tabs", map[string]string{"url": "not a url"}},
		{http.MethodPost, "/api/v1/tabs/t1/navigate", map[string]string{}},
		{http.MethodPost, "/api/v1/tabs/t1/eval", map[string]string{}},
		{http.MethodPost, "/api/v1/tabs/t1/visibility", map[string]string{}},
		{http.MethodGet, "/api/v1/tabs/t1/snapshot?format=pdf", nil},
		{http.MethodPost, "/api/v1/pool/preload", map[string]int{"count": 0}},
	}
	for _, tc := range cases {
		w := s.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s %s: %s", tc.method, tc.path, w.Body.String())
		assert.True(t, strings.Contains(w.Body.String(), models.ErrCodeInvalidInput))
	}
}

func TestAllocationFailureIs503(t *testing.T) {
	s := newTestServer(t)
	s.factory.FailWith(assert.AnError)

	w := s.do(t, http.MethodPost, "/api/v1/tabs", models.OpenTabRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, models.ErrCodeAllocation, decode[models.ErrorResponse](t, w).Error.Code)
}

func TestPoolEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/pool/preload", models.PreloadRequest{Count: 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pre := decode[models.PoolResponse](t, w)
	require.NotNil(t, pre.Affected)
	assert.Equal(t, 2, *pre.Affected, "preload is bounded by capacity")
	assert.Equal(t, 2, pre.Stats.Idle)

	s.do(t, http.MethodPost, "/api/v1/tabs", models.OpenTabRequest{TabID: "t1"})

	w = s.do(t, http.MethodGet, "/api/v1/pool", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.PoolResponse](t, w)
	assert.Equal(t, 1, got.Stats.Active)
	assert.Equal(t, 1, got.Stats.Idle)
	assert.Equal(t, int64(1), got.Stats.Reused)
	require.Len(t, got.Engines, 2)
	assert.Equal(t, "t1", got.Engines[0].TabID)

	w = s.do(t, http.MethodPost, "/api/v1/pool/shrink", models.ShrinkRequest{Keep: 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *decode[models.PoolResponse](t, w).Affected)

	w = s.do(t, http.MethodPost, "/api/v1/pool/pressure", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pressed := decode[models.PoolResponse](t, w)
	assert.Equal(t, 0, *pressed.Affected)
	assert.Equal(t, 1, pressed.Stats.Capacity)

	w = s.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, "degraded", decode[models.HealthResponse](t, w).Status)
}
