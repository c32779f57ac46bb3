package pool

// Hibernator suspends and wakes bound handles in place. It never touches
// the active map: a hibernated handle stays bound and counts as active.
type Hibernator struct {
	p *Pool
}

// Hibernate suspends rendering work on a running handle. Step failures are
// logged and the handle is still marked hibernated.
func (hb *Hibernator) Hibernate(h *Handle) {
	hb.p.mu.Lock()
	defer hb.p.mu.Unlock()
	hb.hibernateLocked(h)
}

func (hb *Hibernator) hibernateLocked(h *Handle) {
	if h.State() != StateRunning {
		return
	}

	log := hb.p.log.With("handle", h.id)
	e := h.engine
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop loading", e.StopLoading},
		{"clear focus", e.ClearFocus},
		{"pause timers", e.PauseTimers},
		{"hide", func() error { return e.SetVisible(false) }},
		{"disable images", func() error { return e.SetImageLoadingEnabled(false) }},
		{"software layer", func() error { return e.SetHardwareLayer(false) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			log.Warn("hibernate: step failed", "step", s.name, "error", err)
		}
	}

	h.setStateLocked(StateHibernated)
	hb.p.syncGaugesLocked()
	log.Debug("hibernate: handle suspended", "tab_id", h.TabID())
}

// Wake resumes a hibernated handle and reapplies the baseline settings.
// Image loading comes back after WakeImageDelay so layout can settle.
func (hb *Hibernator) Wake(h *Handle) {
	hb.p.mu.Lock()
	defer hb.p.mu.Unlock()
	hb.wakeLocked(h)
}

func (hb *Hibernator) wakeLocked(h *Handle) {
	if h.State() != StateHibernated {
		return
	}

	log := hb.p.log.With("handle", h.id)
	e := h.engine
	steps := []struct {
		name string
		fn   func() error
	}{
		{"resume timers", e.ResumeTimers},
		{"show", func() error { return e.SetVisible(true) }},
		{"hardware layer", func() error { return e.SetHardwareLayer(true) }},
		{"apply baseline", func() error { return e.ApplySettings(hb.p.cfg.Baseline) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			log.Warn("wake: step failed", "step", s.name, "error", err)
		}
	}

	h.setStateLocked(StateRunning)
	hb.p.syncGaugesLocked()

	epoch := h.currentEpoch()
	hb.p.afterFunc(hb.p.cfg.WakeImageDelay, func() {
		if h.currentEpoch() != epoch {
			return
		}
		if err := e.SetImageLoadingEnabled(true); err != nil {
			log.Warn("wake: enable images failed", "error", err)
		}
	})
	log.Debug("wake: handle resumed", "tab_id", h.TabID())
}
