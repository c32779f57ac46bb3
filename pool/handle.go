package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/use-agent/tabhost/engine"
)

// State is the binding state of a Handle.
type State int

const (
	// StateIdle means the handle sits in the idle store, bound to no tab.
	StateIdle State = iota
	// StateRunning means the handle is bound to a tab and rendering.
	StateRunning
	// StateHibernated means the handle is bound to a tab but suspended.
	StateHibernated
	// StateDestroyed is terminal: the engine is gone and every operation
	// on the handle is a no-op.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHibernated:
		return "hibernated"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether the state binds the handle to a tab.
func (s State) Active() bool {
	return s == StateRunning || s == StateHibernated
}

// Handle wraps one engine plus the pool's bookkeeping for it. Handles are
// only obtained through Pool.Acquire; the pool keeps ownership and is the
// only component that destroys them.
type Handle struct {
	id      string
	engine  engine.Engine
	created time.Time

	mu        sync.Mutex
	state     State
	tabID     string
	lastTrim  time.Time
	footprint int64
	uses      int

	// epoch advances on every state change so deferred tasks scheduled
	// against an earlier state can tell they are stale.
	epoch    uint64
	schedule trimSchedule
}

func newHandle(e engine.Engine, now time.Time) *Handle {
	return &Handle{
		id:      ulid.Make().String(),
		engine:  e,
		created: now,
		state:   StateIdle,
	}
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Engine returns the engine the handle owns. Callers borrow it for
// rendering work only; lifecycle calls go through the pool.
func (h *Handle) Engine() engine.Engine { return h.engine }

// State returns the current binding state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// TabID returns the bound tab, or "" while idle or destroyed.
func (h *Handle) TabID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabID
}

// LastTrim returns when the handle was last trimmed.
func (h *Handle) LastTrim() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastTrim
}

// Footprint returns the most recent memory estimate in bytes.
func (h *Handle) Footprint() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.footprint
}

// Uses returns how many tabs the handle has been bound to.
func (h *Handle) Uses() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.uses
}

// Info is a point-in-time view of a handle.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	TabID     string    `json:"tab_id,omitempty"`
	Footprint int64     `json:"footprint_bytes"`
	LastTrim  time.Time `json:"last_trim,omitzero"`
	Uses      int       `json:"uses"`
	Created   time.Time `json:"created"`
}

// Info returns a snapshot of the handle's fields.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:        h.id,
		State:     h.state.String(),
		TabID:     h.tabID,
		Footprint: h.footprint,
		LastTrim:  h.lastTrim,
		Uses:      h.uses,
		Created:   h.created,
	}
}

// bindLocked moves the handle to Running for tabID. Caller must hold the
// pool lock.
func (h *Handle) bindLocked(tabID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateRunning
	h.tabID = tabID
	h.uses++
	h.epoch++
}

// parkLocked moves the handle to Idle. Caller must hold the pool lock.
func (h *Handle) parkLocked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateIdle
	h.tabID = ""
	h.epoch++
}

// markDestroyedLocked makes the handle terminal. It reports false if the
// handle was already destroyed. Caller must hold the pool lock.
func (h *Handle) markDestroyedLocked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return false
	}
	h.state = StateDestroyed
	h.tabID = ""
	h.epoch++
	return true
}

// setStateLocked moves a bound handle between Running and Hibernated.
// Caller must hold the pool lock.
func (h *Handle) setStateLocked(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
	h.epoch++
}

func (h *Handle) currentEpoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch
}
