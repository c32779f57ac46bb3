// Package tabs serves the host screens: each tab is a persisted record plus
// the pooled engine bound to it.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/tabhost/cache"
	"github.com/use-agent/tabhost/cleaner"
	"github.com/use-agent/tabhost/download"
	"github.com/use-agent/tabhost/engine"
	"github.com/use-agent/tabhost/models"
	"github.com/use-agent/tabhost/pool"
	"github.com/use-agent/tabhost/simhash"
	"github.com/use-agent/tabhost/store"
	"github.com/use-agent/tabhost/webhook"
)

// ErrTabNotFound is returned for ids with no persisted tab.
var ErrTabNotFound = errors.New("tab not found")

// StateClosed is reported for persisted tabs without a bound engine.
const StateClosed = "closed"

// Config tunes the service.
type Config struct {
	// HibernateAfter is how long a running tab may go untouched before
	// Sweep hibernates it. Zero disables auto-hibernation.
	HibernateAfter time.Duration

	// SweepInterval is how often Run calls Sweep.
	SweepInterval time.Duration

	// NavTimeout bounds a navigation when the caller gives no timeout.
	NavTimeout time.Duration

	// ChangeBits is the simhash distance above which a snapshot counts as
	// changed from the previous one.
	ChangeBits int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		HibernateAfter: 10 * time.Minute,
		SweepInterval:  time.Minute,
		NavTimeout:     30 * time.Second,
		ChangeBits:     3,
	}
}

// Deps are the collaborators of a Service. Cache, Fetcher and Notifier
// are optional.
type Deps struct {
	Pool     *pool.Pool
	Store    store.Store
	Cleaner  *cleaner.Cleaner
	Cache    *cache.Cache
	Fetcher  *download.Fetcher
	Notifier *webhook.Notifier
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now for record timestamps and sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service manages tabs. It is safe for concurrent use.
type Service struct {
	pool     *pool.Pool
	store    store.Store
	cleaner  *cleaner.Cleaner
	cache    *cache.Cache
	fetcher  *download.Fetcher
	notifier *webhook.Notifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	// lifecycle serializes Open, Close and Restore so a record and its
	// binding appear and disappear together.
	lifecycle sync.Mutex

	mu           sync.Mutex
	fingerprints map[string]uint64
}

// NewService creates a Service.
func NewService(d Deps, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = def.NavTimeout
	}
	if cfg.ChangeBits <= 0 {
		cfg.ChangeBits = def.ChangeBits
	}
	if d.Cleaner == nil {
		d.Cleaner = cleaner.NewCleaner()
	}

	s := &Service{
		pool:         d.Pool,
		store:        d.Store,
		cleaner:      d.Cleaner,
		cache:        d.Cache,
		fetcher:      d.Fetcher,
		notifier:     d.Notifier,
		cfg:          cfg,
		log:          slog.Default(),
		now:          time.Now,
		fingerprints: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool returns the engine pool behind the service.
func (s *Service) Pool() *pool.Pool { return s.pool }

// Open binds an engine to a new tab, persists it and loads req.URL. Opening
// an id that is already open returns the existing tab. If the first load
// fails the tab is closed again.
func (s *Service) Open(ctx context.Context, req models.OpenTabRequest) (*models.TabInfo, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	id := req.TabID
	if id == "" {
		id = models.NewTabID()
	}
	if _, bound := s.pool.Lookup(id); bound {
		if rec, err := s.store.GetTab(ctx, id); err == nil {
			return s.info(rec), nil
		}
	}

	position := 0
	if req.Position != nil {
		position = *req.Position
	} else {
		next, err := s.store.NextPosition(ctx)
		if err != nil {
			return nil, models.NewAPIError(models.ErrCodeInternal, "failed to read tab positions", err)
		}
		position = next
	}

	h, err := s.pool.Acquire(ctx, id)
	if err != nil {
		return nil, allocationError(err)
	}

	now := s.now()
	rec := &models.Tab{
		ID:         id,
		URL:        engine.BlankURL,
		Position:   position,
		Active:     !req.Background,
		LastAccess: now,
		CreatedAt:  now,
	}

	if req.URL != "" {
		page, err := s.load(ctx, h, req.URL, 0)
		if err != nil {
			s.pool.Release(id)
			return nil, err
		}
		rec.URL, rec.Title = page.URL, page.Title
	}

	if err := s.store.SaveTab(ctx, rec); err != nil {
		s.pool.Release(id)
		return nil, models.NewAPIError(models.ErrCodeInternal, "failed to persist tab", err)
	}

	if req.Background {
		s.pool.Optimizer().ApplyBackground(h)
	} else {
		s.pool.Optimizer().ApplyForeground(h)
	}

	s.log.Info("tab opened", "tab_id", id, "url", rec.URL, "handle", h.ID(), "background", req.Background)
	s.notify(webhook.EventTabOpened, id, map[string]any{"url": rec.URL, "background": req.Background})
	return s.info(rec), nil
}

// Close releases the tab's engine and forgets the tab.
func (s *Service) Close(ctx context.Context, id string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	_, bound := s.pool.Lookup(id)
	err := s.store.DeleteTab(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound) && !bound:
		return notFound(id)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return models.NewAPIError(models.ErrCodeInternal, "failed to delete tab", err)
	}

	s.pool.Release(id)
	s.forget(id)

	s.log.Info("tab closed", "tab_id", id)
	s.notify(webhook.EventTabClosed, id, nil)
	return nil
}

// Get returns a tab and the state of its engine.
func (s *Service) Get(ctx context.Context, id string) (*models.TabInfo, error) {
	rec, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.info(rec), nil
}

// List returns every tab in position order.
func (s *Service) List(ctx context.Context) ([]models.TabInfo, error) {
	recs, err := s.store.ListTabs(ctx)
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeInternal, "failed to list tabs", err)
	}
	out := make([]models.TabInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *s.info(rec))
	}
	return out, nil
}

// Navigate loads url in the tab. A zero timeout uses the configured
// navigation timeout.
func (s *Service) Navigate(ctx context.Context, id, url string, timeout time.Duration) (*models.TabInfo, error) {
	h, rec, err := s.use(ctx, id)
	if err != nil {
		return nil, err
	}

	page, err := s.load(ctx, h, url, timeout)
	if err != nil {
		return nil, err
	}
	s.forget(id)

	rec.URL, rec.Title, rec.LastAccess = page.URL, page.Title, s.now()
	err = s.store.Touch(ctx, id, page.URL, page.Title, rec.LastAccess)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Closed while loading.
		return nil, notFound(id)
	case err != nil:
		s.log.Warn("tabs: touch failed", "tab_id", id, "error", err)
	}
	return s.info(rec), nil
}

// Evaluate runs script in the tab and returns its JSON value.
func (s *Service) Evaluate(ctx context.Context, id, script string, timeout time.Duration) (any, error) {
	h, _, err := s.use(ctx, id)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := h.Engine().EvaluateScript(ctx, script)
	// Script may have changed the page either way.
	s.invalidate(id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewAPIError(models.ErrCodeTimeout, "script timed out", err)
		}
		return nil, models.NewAPIError(models.ErrCodeScript, "script failed", err)
	}
	return res.Val(), nil
}

// Snapshot returns the tab's content cleaned into q.Format. Snapshots
// younger than q.MaxAge seconds are served from the cache.
func (s *Service) Snapshot(ctx context.Context, id string, q models.SnapshotQuery) (*models.SnapshotResponse, error) {
	q.Defaults()
	h, rec, err := s.use(ctx, id)
	if err != nil {
		return nil, err
	}

	maxAge := time.Duration(q.MaxAge) * time.Second
	key := cache.Key(id, rec.URL, q.Format, q.Mode, q.Selector)
	if s.cache != nil {
		if resp, ok := s.cache.Get(key, maxAge); ok {
			resp.CacheStatus = "hit"
			return resp, nil
		}
	}

	page, err := h.Engine().Content(ctx)
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeSnapshot, "failed to read page content", err)
	}
	resp, err := s.cleaner.Clean(page.HTML, page.URL, q.Format, q.Mode, q.Selector)
	if err != nil {
		return nil, err
	}

	fp := simhash.Fingerprint(resp.Content)
	resp.Fingerprint = simhash.Hex(fp)
	resp.Changed = s.compare(id+"|"+q.Format+"|"+q.Mode+"|"+q.Selector, fp)

	if s.cache != nil && maxAge > 0 {
		s.cache.Set(key, id, resp)
		resp.CacheStatus = "miss"
	}
	return resp, nil
}

// Forms lists the forms on the tab's page.
func (s *Service) Forms(ctx context.Context, id string) (*models.FormsResponse, error) {
	h, _, err := s.use(ctx, id)
	if err != nil {
		return nil, err
	}
	page, err := h.Engine().Content(ctx)
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeSnapshot, "failed to read page content", err)
	}
	forms, err := cleaner.ExtractForms(page.HTML)
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeSnapshot, "failed to parse forms", err)
	}
	return &models.FormsResponse{Success: true, URL: page.URL, Forms: forms}, nil
}

// Download fetches url with the cookies the tab would send.
func (s *Service) Download(ctx context.Context, id, url string) (*download.Result, error) {
	if s.fetcher == nil {
		return nil, models.NewAPIError(models.ErrCodeDownload, "downloads are disabled", nil)
	}
	h, _, err := s.use(ctx, id)
	if err != nil {
		return nil, err
	}
	cookies, err := h.Engine().Cookies(ctx, url)
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeDownload, "failed to read tab cookies", err)
	}
	res, err := s.fetcher.Fetch(ctx, url, cookies)
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeDownload, "download failed", err)
	}
	s.log.Info("tab download", "tab_id", id, "url", url, "bytes", len(res.Body))
	return res, nil
}

// Hibernate suspends the tab's engine while keeping it bound.
func (s *Service) Hibernate(ctx context.Context, id string) (*models.TabInfo, error) {
	rec, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	if h, ok := s.pool.Lookup(id); ok {
		s.hibernate(ctx, h, rec)
	}
	return s.info(rec), nil
}

// Wake resumes a hibernated tab.
func (s *Service) Wake(ctx context.Context, id string) (*models.TabInfo, error) {
	_, rec, err := s.use(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.info(rec), nil
}

// SetVisible moves the tab to the foreground or the background. Showing a
// hibernated tab wakes it; hiding one leaves it hibernated.
func (s *Service) SetVisible(ctx context.Context, id string, visible bool) (*models.TabInfo, error) {
	var (
		h   *pool.Handle
		rec *models.Tab
		err error
	)
	if visible {
		h, rec, err = s.use(ctx, id)
	} else {
		h, rec, err = s.bound(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if visible {
		s.pool.Optimizer().ApplyForeground(h)
	} else {
		s.pool.Optimizer().ApplyBackground(h)
	}
	rec.Active = visible
	if err := s.store.SaveTab(ctx, rec); err != nil {
		s.log.Warn("tabs: save visibility failed", "tab_id", id, "error", err)
	}
	return s.info(rec), nil
}

// RelieveMemoryPressure sheds idle engines and reports the event.
func (s *Service) RelieveMemoryPressure() int {
	n := s.pool.RelieveMemoryPressure()
	s.notify(webhook.EventPoolPressure, "", map[string]any{
		"destroyed": n,
		"capacity":  s.pool.Capacity(),
	})
	return n
}

// Sweep hibernates running tabs idle for at least HibernateAfter and
// returns how many it hibernated.
func (s *Service) Sweep(ctx context.Context) int {
	if s.cfg.HibernateAfter <= 0 {
		return 0
	}
	recs, err := s.store.ListTabs(ctx)
	if err != nil {
		s.log.Warn("tabs: sweep could not list tabs", "error", err)
		return 0
	}

	now := s.now()
	n := 0
	for _, rec := range recs {
		h, ok := s.pool.Lookup(rec.ID)
		if !ok || h.State() != pool.StateRunning || !rec.ShouldHibernate(now, s.cfg.HibernateAfter) {
			continue
		}
		s.hibernate(ctx, h, rec)
		n++
	}
	if n > 0 {
		s.log.Info("tabs: hibernated idle tabs", "count", n)
	}
	return n
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Restore rebinds engines to every persisted tab, reloading their pages.
// Tabs persisted as hibernated come back hibernated. Load failures are
// logged and the tab stays open on a blank page.
func (s *Service) Restore(ctx context.Context) (int, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	recs, err := s.store.ListTabs(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: list tabs: %w", err)
	}

	n := 0
	for _, rec := range recs {
		if _, bound := s.pool.Lookup(rec.ID); bound {
			continue
		}
		h, err := s.rebind(ctx, rec)
		if err != nil {
			return n, fmt.Errorf("restore %s: %w", rec.ID, err)
		}
		switch {
		case rec.Hibernated:
			s.pool.Hibernator().Hibernate(h)
		case rec.Active:
			s.pool.Optimizer().ApplyForeground(h)
		default:
			s.pool.Optimizer().ApplyBackground(h)
		}
		n++
		s.notify(webhook.EventTabRestored, rec.ID, map[string]any{"url": rec.URL})
	}
	if n > 0 {
		s.log.Info("tabs: restored tabs", "count", n)
	}
	return n, nil
}

// record loads a tab record, mapping a missing record to ErrTabNotFound.
func (s *Service) record(ctx context.Context, id string) (*models.Tab, error) {
	rec, err := s.store.GetTab(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, models.NewAPIError(models.ErrCodeInternal, "failed to load tab", err)
	}
	return rec, nil
}

// bound returns the tab and its engine, rebinding one if the tab has none.
func (s *Service) bound(ctx context.Context, id string) (*pool.Handle, *models.Tab, error) {
	rec, err := s.record(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if h, ok := s.pool.Lookup(id); ok {
		return h, rec, nil
	}

	// Rebinding creates a binding, so it runs under the lifecycle lock
	// against a record read under that lock. A tab closed since the first
	// read must not get an engine back.
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	rec, err = s.record(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if h, ok := s.pool.Lookup(id); ok {
		return h, rec, nil
	}
	h, err := s.rebind(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	return h, rec, nil
}

// use is bound plus wake-on-access and a last-access update.
func (s *Service) use(ctx context.Context, id string) (*pool.Handle, *models.Tab, error) {
	h, rec, err := s.bound(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if h.State() == pool.StateHibernated {
		s.pool.Hibernator().Wake(h)
		rec.Hibernated = false
		if err := s.store.SetHibernated(ctx, id, false); err != nil {
			s.log.Warn("tabs: clear hibernated flag failed", "tab_id", id, "error", err)
		}
		s.log.Info("tab woken", "tab_id", id)
		s.notify(webhook.EventTabWoken, id, nil)
	}

	rec.LastAccess = s.now()
	if err := s.store.Touch(ctx, id, "", "", rec.LastAccess); err != nil {
		s.log.Warn("tabs: touch failed", "tab_id", id, "error", err)
	}
	return h, rec, nil
}

// rebind acquires an engine for a persisted tab and reloads its URL.
func (s *Service) rebind(ctx context.Context, rec *models.Tab) (*pool.Handle, error) {
	h, err := s.pool.Acquire(ctx, rec.ID)
	if err != nil {
		return nil, allocationError(err)
	}
	if rec.URL != "" && rec.URL != engine.BlankURL {
		if _, err := s.load(ctx, h, rec.URL, 0); err != nil {
			s.log.Warn("tabs: reload failed, tab left blank", "tab_id", rec.ID, "url", rec.URL, "error", err)
		}
	}
	return h, nil
}

// load navigates h and schedules the post-load trim.
func (s *Service) load(ctx context.Context, h *pool.Handle, url string, timeout time.Duration) (*engine.PageContent, error) {
	if timeout <= 0 {
		timeout = s.cfg.NavTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e := h.Engine()
	if err := e.LoadContent(ctx, url); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewAPIError(models.ErrCodeTimeout, "navigation timed out", err)
		}
		return nil, models.NewAPIError(models.ErrCodeNavigation, "navigation failed", err)
	}
	s.pool.Optimizer().ContentLoaded(h)

	page, err := e.Content(ctx)
	if err != nil {
		s.log.Debug("tabs: content after load unavailable", "url", url, "error", err)
		return &engine.PageContent{URL: url}, nil
	}
	if page.URL == "" {
		page.URL = url
	}
	return page, nil
}

func (s *Service) hibernate(ctx context.Context, h *pool.Handle, rec *models.Tab) {
	if h.State() != pool.StateRunning {
		return
	}
	s.pool.Hibernator().Hibernate(h)
	rec.Hibernated = true
	if err := s.store.SetHibernated(ctx, rec.ID, true); err != nil {
		s.log.Warn("tabs: set hibernated flag failed", "tab_id", rec.ID, "error", err)
	}
	s.log.Info("tab hibernated", "tab_id", rec.ID)
	s.notify(webhook.EventTabHibernated, rec.ID, nil)
}

// compare records fp under key and reports whether it moved away from the
// previous fingerprint. The first snapshot returns nil.
func (s *Service) compare(key string, fp uint64) *bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.fingerprints[key]
	s.fingerprints[key] = fp
	if !seen {
		return nil
	}
	changed := !simhash.Similar(prev, fp, s.cfg.ChangeBits)
	return &changed
}

// invalidate drops cached snapshots of the tab.
func (s *Service) invalidate(id string) {
	if s.cache != nil {
		s.cache.InvalidateTab(id)
	}
}

// forget drops cached snapshots and fingerprints of the tab.
func (s *Service) forget(id string) {
	s.invalidate(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.fingerprints {
		if strings.HasPrefix(k, id+"|") {
			delete(s.fingerprints, k)
		}
	}
}

func (s *Service) notify(typ, id string, data any) {
	if s.notifier.Enabled() {
		s.notifier.Notify(webhook.NewEvent(typ, id, data))
	}
}

// info joins a record with the live state of its engine.
func (s *Service) info(rec *models.Tab) *models.TabInfo {
	ti := &models.TabInfo{Tab: *rec, State: StateClosed}
	if h, ok := s.pool.Lookup(rec.ID); ok {
		ti.State = h.State().String()
		ti.EngineID = h.ID()
		ti.Hibernated = h.State() == pool.StateHibernated
	}
	return ti
}

func notFound(id string) error {
	return models.NewAPIError(models.ErrCodeTabNotFound, fmt.Sprintf("tab %q not found", id), ErrTabNotFound)
}

func allocationError(err error) error {
	if errors.Is(err, pool.ErrClosed) {
		return models.NewAPIError(models.ErrCodeInternal, "engine pool is closed", err)
	}
	return models.NewAPIError(models.ErrCodeAllocation, "failed to allocate a render engine", err)
}
