// Package pool keeps a bounded set of render engines, binds them to tabs,
// and drives their trim, foreground/background and hibernation lifecycle.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/use-agent/tabhost/engine"
)

var (
	// ErrAllocation wraps factory failures. It is the only pool error a
	// tab is expected to surface to its user.
	ErrAllocation = errors.New("pool: engine allocation failed")

	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("pool: closed")

	// ErrEmptyTabID is returned by Acquire for an empty tab id.
	ErrEmptyTabID = errors.New("pool: empty tab id")
)

// resetTimeout bounds the navigation to about:blank done on reset and release.
const resetTimeout = 10 * time.Second

// Config holds pool and lifecycle tuning.
type Config struct {
	Capacity            int
	TrimInterval        time.Duration
	TrimThreshold       int64 // bytes
	PostLoadTrimDelay   time.Duration
	WakeImageDelay      time.Duration
	MaintenanceInterval time.Duration
	MemThreshold        float64 // 0.0–1.0
	TransientPrefixes   []string
	Baseline            engine.Settings
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Capacity:            3,
		TrimInterval:        60 * time.Second,
		TrimThreshold:       50 << 20,
		PostLoadTrimDelay:   2 * time.Second,
		WakeImageDelay:      300 * time.Millisecond,
		MaintenanceInterval: 10 * time.Second,
		MemThreshold:        0.9,
		TransientPrefixes:   []string{"temp_", "cache_"},
		Baseline:            engine.Baseline(0, 0),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity < 1 {
		c.Capacity = d.Capacity
	}
	if c.TrimInterval <= 0 {
		c.TrimInterval = d.TrimInterval
	}
	if c.TrimThreshold <= 0 {
		c.TrimThreshold = d.TrimThreshold
	}
	if c.PostLoadTrimDelay <= 0 {
		c.PostLoadTrimDelay = d.PostLoadTrimDelay
	}
	if c.WakeImageDelay <= 0 {
		c.WakeImageDelay = d.WakeImageDelay
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	if c.MemThreshold <= 0 {
		c.MemThreshold = d.MemThreshold
	}
	if c.TransientPrefixes == nil {
		c.TransientPrefixes = d.TransientPrefixes
	}
	if c.Baseline.ViewportWidth == 0 {
		c.Baseline = d.Baseline
	}
	return c
}

// PressureFunc reports memory pressure as a fraction in [0, 1].
type PressureFunc func() float64

// heapPressure estimates pressure as HeapInuse / HeapSys.
func heapPressure() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapInuse) / float64(m.HeapSys)
}

// Option customises a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithPressureFunc replaces the heap-based memory pressure sampler.
func WithPressureFunc(fn PressureFunc) Option {
	return func(p *Pool) { p.pressure = fn }
}

// WithEstimator replaces the viewport memory estimator.
func WithEstimator(e Estimator) Option {
	return func(p *Pool) { p.estimator = e }
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	Capacity   int   `json:"capacity"`
	Active     int   `json:"active"`
	Hibernated int   `json:"hibernated"`
	Idle       int   `json:"idle"`
	Created    int64 `json:"created"`
	Reused     int64 `json:"reused"`
	Destroyed  int64 `json:"destroyed"`
	Trims      int64 `json:"trims"`
}

// Pool owns the idle store and the active map. A single mutex serialises
// every transition, including the ones fired by timers, so handle state
// never changes under a caller's feet.
type Pool struct {
	cfg       Config
	factory   engine.Factory
	estimator Estimator
	pressure  PressureFunc
	now       func() time.Time
	log       *slog.Logger

	opt *Optimizer
	hib *Hibernator

	mu       sync.Mutex
	capacity int
	idle     []*Handle // LIFO: the last element was released most recently
	active   map[string]*Handle
	tracked  map[string]*Handle // every live handle, by handle id
	closed   bool

	created   int64
	reused    int64
	destroyed int64
	trims     int64

	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a pool and starts its trim and maintenance loops.
func New(factory engine.Factory, cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		estimator: ViewportEstimator{},
		pressure:  heapPressure,
		now:       time.Now,
		log:       slog.Default(),
		capacity:  cfg.Capacity,
		active:    make(map[string]*Handle),
		tracked:   make(map[string]*Handle),
		stopped:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.opt = newOptimizer(p)
	p.hib = &Hibernator{p: p}

	p.wg.Add(2)
	go p.loop(cfg.TrimInterval, p.opt.tick)
	go p.loop(cfg.MaintenanceInterval, p.maintain)
	return p
}

// Optimizer returns the pool's lifecycle optimizer.
func (p *Pool) Optimizer() *Optimizer { return p.opt }

// Hibernator returns the pool's hibernation controller.
func (p *Pool) Hibernator() *Hibernator { return p.hib }

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Acquire returns the handle bound to tabID, binding one first if needed.
// Idle handles are reused most-recent-first; the factory is only called
// when the idle store is empty.
func (p *Pool) Acquire(ctx context.Context, tabID string) (*Handle, error) {
	if tabID == "" {
		return nil, ErrEmptyTabID
	}
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if h, ok := p.active[tabID]; ok {
		return h, nil
	}

	h := p.takeIdleLocked(ctx)
	if h == nil {
		e, err := p.factory.Create(ctx)
		if err != nil {
			p.log.Error("pool: engine creation failed", "tab_id", tabID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		h = newHandle(e, p.now())
		p.tracked[h.id] = h
		p.created++
		enginesCreated.Inc()
		p.log.Debug("pool: created engine", "handle", h.id, "tab_id", tabID)
	} else {
		p.reused++
		enginesReused.Inc()
		p.log.Debug("pool: reused engine", "handle", h.id, "tab_id", tabID)
	}

	h.bindLocked(tabID)
	p.active[tabID] = h
	p.opt.trackLocked(h)
	p.syncGaugesLocked()
	acquireDuration.Observe(time.Since(start).Seconds())
	return h, nil
}

// takeIdleLocked pops and resets idle handles until one resets cleanly.
// Handles that fail reset are destroyed. Caller must hold p.mu.
func (p *Pool) takeIdleLocked(ctx context.Context) *Handle {
	for len(p.idle) > 0 {
		h := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if err := p.resetLocked(ctx, h); err != nil {
			p.log.Warn("pool: reset failed, destroying engine", "handle", h.id, "error", err)
			p.destroyLocked(h)
			continue
		}
		return h
	}
	return nil
}

// resetLocked returns an idle engine to a clean baseline before reuse.
func (p *Pool) resetLocked(ctx context.Context, h *Handle) error {
	e := h.engine
	if err := e.StopLoading(); err != nil {
		return fmt.Errorf("stop loading: %w", err)
	}
	if err := e.ClearHistory(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := e.ClearCache(true); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	if err := e.ClearFormData(); err != nil {
		return fmt.Errorf("clear form data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()
	if err := e.LoadContent(ctx, engine.BlankURL); err != nil {
		return fmt.Errorf("blank content: %w", err)
	}
	if err := e.ResumeTimers(); err != nil {
		return fmt.Errorf("resume timers: %w", err)
	}
	if err := e.SetVisible(true); err != nil {
		return fmt.Errorf("set visible: %w", err)
	}
	if err := e.ApplySettings(p.cfg.Baseline); err != nil {
		return fmt.Errorf("apply baseline: %w", err)
	}
	return nil
}

// Release unbinds tabID. The handle goes back to the idle store when there
// is room and is destroyed otherwise. Unknown tab ids are ignored.
func (p *Pool) Release(tabID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.active[tabID]
	if !ok {
		return
	}
	delete(p.active, tabID)
	defer p.syncGaugesLocked()

	e := h.engine
	if err := e.StopLoading(); err != nil {
		p.log.Debug("pool: stop loading on release", "handle", h.id, "error", err)
	}

	if p.closed || len(p.idle) >= p.capacity {
		p.log.Debug("pool: idle store full, destroying engine", "handle", h.id, "tab_id", tabID)
		p.destroyLocked(h)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if err := e.LoadContent(ctx, engine.BlankURL); err != nil {
		p.log.Warn("pool: blanking failed, destroying engine", "handle", h.id, "error", err)
		p.destroyLocked(h)
		return
	}

	h.parkLocked()
	p.idle = append(p.idle, h)
	p.log.Debug("pool: parked engine", "handle", h.id, "tab_id", tabID, "idle", len(p.idle))
}

// Lookup returns the handle bound to tabID.
func (p *Pool) Lookup(tabID string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.active[tabID]
	return h, ok
}

// ActiveCount returns the number of bound handles, hibernated included.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// IdleCount returns the number of handles in the idle store.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Capacity returns the current idle store bound.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Stats returns a summary of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:   p.capacity,
		Active:     len(p.active),
		Hibernated: p.hibernatedLocked(),
		Idle:       len(p.idle),
		Created:    p.created,
		Reused:     p.reused,
		Destroyed:  p.destroyed,
		Trims:      p.trims,
	}
}

// Handles lists every live handle, bound ones first, ordered by tab id.
func (p *Pool) Handles() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Info, 0, len(p.active)+len(p.idle))
	for _, h := range p.active {
		out = append(out, h.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	for i := len(p.idle) - 1; i >= 0; i-- {
		out = append(out, p.idle[i].Info())
	}
	return out
}

// DrainAll destroys every idle and bound handle. Timers already scheduled
// against drained handles find them destroyed and do nothing.
func (p *Pool) DrainAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
}

func (p *Pool) drainLocked() {
	n := len(p.idle) + len(p.active)
	for _, h := range p.idle {
		p.destroyLocked(h)
	}
	p.idle = nil
	for tabID, h := range p.active {
		p.destroyLocked(h)
		delete(p.active, tabID)
	}
	p.syncGaugesLocked()
	if n > 0 {
		p.log.Info("pool: drained", "destroyed", n)
	}
}

// Preload fills the idle store with up to n fresh engines, bounded by
// capacity. It returns how many were created.
func (p *Pool) Preload(ctx context.Context, n int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	target := min(n, p.capacity)
	made := 0
	for len(p.idle) < target {
		if err := ctx.Err(); err != nil {
			return made, err
		}
		e, err := p.factory.Create(ctx)
		if err != nil {
			p.syncGaugesLocked()
			return made, fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		h := newHandle(e, p.now())
		h.parkLocked()
		p.tracked[h.id] = h
		p.opt.trackLocked(h)
		p.idle = append(p.idle, h)
		p.created++
		enginesCreated.Inc()
		made++
	}
	p.syncGaugesLocked()
	if made > 0 {
		p.log.Info("pool: preloaded engines", "count", made, "idle", len(p.idle))
	}
	return made, nil
}

// Shrink destroys the longest-parked idle handles until at most n remain
// and lowers the idle capacity to n (never below one) so later releases
// do not refill the store. It returns how many were destroyed.
func (p *Pool) Shrink(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n < p.capacity {
		p.capacity = max(1, n)
	}
	excess := len(p.idle) - n
	if excess <= 0 {
		return 0
	}
	// The bottom of the LIFO stack holds the oldest entries.
	for _, h := range p.idle[:excess] {
		p.destroyLocked(h)
	}
	p.idle = append([]*Handle(nil), p.idle[excess:]...)
	p.syncGaugesLocked()
	p.log.Info("pool: shrank idle store", "destroyed", excess, "idle", len(p.idle))
	return excess
}

// RelieveMemoryPressure destroys every idle handle and halves the idle
// capacity, never below one. It returns how many handles were destroyed.
func (p *Pool) RelieveMemoryPressure() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relieveLocked()
}

func (p *Pool) relieveLocked() int {
	n := len(p.idle)
	for _, h := range p.idle {
		p.destroyLocked(h)
	}
	p.idle = nil
	p.capacity = max(1, p.capacity/2)
	p.syncGaugesLocked()
	p.log.Warn("pool: relieved memory pressure", "destroyed", n, "capacity", p.capacity)
	return n
}

// maintain samples memory pressure and sheds idle engines above threshold.
func (p *Pool) maintain() {
	pressure := p.pressure()
	if pressure <= p.cfg.MemThreshold {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.log.Warn("pool: memory pressure high", "pressure", pressure, "threshold", p.cfg.MemThreshold)
	p.relieveLocked()
}

// Close stops the background loops and destroys every handle. Later
// Acquire calls return ErrClosed; other operations become no-ops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopped)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
}

// destroyLocked makes h terminal and destroys its engine. The caller
// removes h from the idle store or active map in the same critical section.
func (p *Pool) destroyLocked(h *Handle) {
	if !h.markDestroyedLocked() {
		return
	}
	delete(p.tracked, h.id)
	if err := h.engine.Destroy(); err != nil {
		p.log.Warn("pool: engine destroy failed", "handle", h.id, "error", err)
	}
	p.destroyed++
	enginesDestroyed.Inc()
}

// afterFunc runs fn after d under the pool lock, unless the pool closed.
func (p *Pool) afterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		fn()
	})
}

func (p *Pool) loop(interval time.Duration, fn func()) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Pool) hibernatedLocked() int {
	n := 0
	for _, h := range p.active {
		if h.State() == StateHibernated {
			n++
		}
	}
	return n
}

func (p *Pool) syncGaugesLocked() {
	activeEngines.Set(float64(len(p.active)))
	idleEngines.Set(float64(len(p.idle)))
	hibernatedEngines.Set(float64(p.hibernatedLocked()))
}
