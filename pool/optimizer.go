package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/tabhost/engine"
	"github.com/ysmood/gson"
)

// trimPhase is a handle's position in its trim cycle:
// Scheduled -> Due -> Trimming -> Scheduled.
type trimPhase int

const (
	trimScheduled trimPhase = iota
	trimDue
	trimTrimming
)

func (t trimPhase) String() string {
	switch t {
	case trimScheduled:
		return "scheduled"
	case trimDue:
		return "due"
	case trimTrimming:
		return "trimming"
	default:
		return fmt.Sprintf("trimPhase(%d)", int(t))
	}
}

type trimSchedule struct {
	phase    trimPhase
	lastRun  time.Time
	interval time.Duration
	tracked  bool
}

// Timeouts for engine calls made from timer tasks.
const (
	estimateTimeout = 5 * time.Second
	trimEvalTimeout = 10 * time.Second
)

// transientScript drops localStorage and sessionStorage entries whose key
// starts with one of the prefixes and returns how many it removed.
const transientScript = `() => {
	const prefixes = %s;
	let removed = 0;
	for (const name of ['localStorage', 'sessionStorage']) {
		let store;
		try { store = window[name]; } catch (e) { continue; }
		if (!store) continue;
		for (let i = store.length - 1; i >= 0; i--) {
			const key = store.key(i);
			if (key && prefixes.some(p => key.startsWith(p))) {
				store.removeItem(key);
				removed++;
			}
		}
	}
	return removed;
}`

// Optimizer runs the periodic trim schedule and switches handles between
// foreground and background rendering. It shares the pool's lock.
type Optimizer struct {
	p      *Pool
	script string
}

func newOptimizer(p *Pool) *Optimizer {
	prefixes := gson.New(p.cfg.TransientPrefixes).JSON("", "")
	return &Optimizer{
		p:      p,
		script: fmt.Sprintf(transientScript, prefixes),
	}
}

// trackLocked enrols h in the trim schedule if it is not already.
func (o *Optimizer) trackLocked(h *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.schedule.tracked {
		return
	}
	h.schedule = trimSchedule{
		phase:    trimScheduled,
		lastRun:  o.p.now(),
		interval: o.p.cfg.TrimInterval,
		tracked:  true,
	}
}

// tick marks every tracked handle whose interval has elapsed as due and
// trims it. Hibernated handles are skipped.
func (o *Optimizer) tick() {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	if o.p.closed {
		return
	}

	now := o.p.now()
	for _, h := range o.p.tracked {
		if !h.markDueLocked(now) {
			continue
		}
		o.trimLocked(h, false)
	}
}

// Trim runs one trim pass against h immediately, regardless of its
// footprint. It is a no-op for hibernated or destroyed handles.
func (o *Optimizer) Trim(h *Handle) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()
	if o.p.closed {
		return
	}
	o.trimLocked(h, true)
}

// trimLocked estimates h and, when it is above threshold or force is set,
// frees engine caches, drops to cache-else-network and sweeps transient
// storage. Failures are logged and never stop the schedule.
func (o *Optimizer) trimLocked(h *Handle, force bool) {
	log := o.p.log.With("handle", h.id)

	switch h.State() {
	case StateDestroyed:
		return
	case StateHibernated:
		h.finishTrimLocked(o.p.now(), false)
		o.countTrim(trimSkipped)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), estimateTimeout)
	footprint, err := o.p.estimator.Estimate(ctx, h.engine)
	cancel()
	if err != nil {
		log.Warn("optimizer: estimate failed", "error", err)
		h.finishTrimLocked(o.p.now(), false)
		o.countTrim(trimFailed)
		return
	}
	h.setFootprintLocked(footprint)

	if !force && footprint <= o.p.cfg.TrimThreshold {
		h.finishTrimLocked(o.p.now(), false)
		o.countTrim(trimSkipped)
		return
	}

	h.beginTrimLocked()
	result := trimApplied
	if err := h.engine.FreeMemory(); err != nil {
		log.Warn("optimizer: free memory failed", "error", err)
		result = trimFailed
	}
	if err := h.engine.SetCacheMode(engine.CacheElseNetwork); err != nil {
		log.Warn("optimizer: set cache mode failed", "error", err)
		result = trimFailed
	}

	e := h.engine
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), trimEvalTimeout)
		defer cancel()
		res, err := e.EvaluateScript(ctx, o.script)
		if err != nil {
			log.Debug("optimizer: transient storage sweep failed", "error", err)
			return
		}
		if n := res.Int(); n > 0 {
			log.Debug("optimizer: dropped transient storage", "entries", n)
		}
	}()

	applied := result == trimApplied
	h.finishTrimLocked(o.p.now(), applied)
	if applied {
		o.p.trims++
	}
	o.countTrim(result)
	log.Debug("optimizer: trimmed", "footprint", footprint, "forced", force)
}

func (o *Optimizer) countTrim(result string) {
	trimsTotal.WithLabelValues(result).Inc()
}

// ApplyForeground prepares a bound handle for display: images on, high
// priority, timers running and the baseline cache mode restored. A
// hibernated handle is woken first.
func (o *Optimizer) ApplyForeground(h *Handle) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()

	woken := false
	switch h.State() {
	case StateHibernated:
		// Wake re-enables images itself after WakeImageDelay.
		o.p.hib.wakeLocked(h)
		woken = true
	case StateRunning:
	default:
		return
	}

	log := o.p.log.With("handle", h.id)
	e := h.engine
	if !woken {
		if err := e.SetImageLoadingEnabled(true); err != nil {
			log.Warn("optimizer: enable images failed", "error", err)
		}
	}
	if err := e.SetRenderPriority(engine.PriorityHigh); err != nil {
		log.Warn("optimizer: set priority failed", "error", err)
	}
	if err := e.ResumeTimers(); err != nil {
		log.Warn("optimizer: resume timers failed", "error", err)
	}
	if err := e.SetCacheMode(o.p.cfg.Baseline.CacheMode); err != nil {
		log.Warn("optimizer: restore cache mode failed", "error", err)
	}
}

// ApplyBackground lowers the cost of a bound handle that stays open but
// hidden. Loading and timers are only stopped when no navigation is in
// flight.
func (o *Optimizer) ApplyBackground(h *Handle) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()

	if h.State() != StateRunning {
		return
	}

	log := o.p.log.With("handle", h.id)
	e := h.engine
	if err := e.SetImageLoadingEnabled(false); err != nil {
		log.Warn("optimizer: disable images failed", "error", err)
	}
	if err := e.SetCacheMode(engine.CacheOnly); err != nil {
		log.Warn("optimizer: set cache mode failed", "error", err)
	}
	if e.IsLoading() {
		return
	}
	if err := e.StopLoading(); err != nil {
		log.Warn("optimizer: stop loading failed", "error", err)
	}
	if err := e.PauseTimers(); err != nil {
		log.Warn("optimizer: pause timers failed", "error", err)
	}
}

// ContentLoaded schedules a one-shot trim shortly after a page load. The
// trim is dropped if h changes state before it fires.
func (o *Optimizer) ContentLoaded(h *Handle) {
	o.p.mu.Lock()
	defer o.p.mu.Unlock()

	if h.State() != StateRunning {
		return
	}
	epoch := h.currentEpoch()
	o.p.afterFunc(o.p.cfg.PostLoadTrimDelay, func() {
		if h.currentEpoch() != epoch {
			return
		}
		o.trimLocked(h, true)
	})
}

// markDueLocked moves a scheduled handle to Due once its interval has
// elapsed. It reports whether the handle is now due.
func (h *Handle) markDueLocked(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed || !h.schedule.tracked {
		return false
	}
	if h.schedule.phase != trimScheduled {
		return false
	}
	// The ticker fires at the trim interval itself; allow for its jitter.
	if now.Sub(h.schedule.lastRun) < h.schedule.interval-h.schedule.interval/10 {
		return false
	}
	h.schedule.phase = trimDue
	return true
}

func (h *Handle) beginTrimLocked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedule.phase = trimTrimming
}

// finishTrimLocked returns the schedule to Scheduled and records the run.
func (h *Handle) finishTrimLocked(now time.Time, trimmed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedule.phase = trimScheduled
	h.schedule.lastRun = now
	if trimmed {
		h.lastTrim = now
	}
}

func (h *Handle) setFootprintLocked(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.footprint = n
}
