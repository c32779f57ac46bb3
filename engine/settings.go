package engine

import "fmt"

// CacheMode selects how an engine satisfies loads.
type CacheMode int

const (
	// CacheDefault follows normal HTTP caching rules.
	CacheDefault CacheMode = iota
	// CacheElseNetwork serves from cache when possible, else from the network.
	CacheElseNetwork
	// CacheOnly never touches the network.
	CacheOnly
	// NoCache bypasses the cache entirely.
	NoCache
)

func (m CacheMode) String() string {
	switch m {
	case CacheDefault:
		return "default"
	case CacheElseNetwork:
		return "cache_else_network"
	case CacheOnly:
		return "cache_only"
	case NoCache:
		return "no_cache"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
}

// RenderPriority hints how eagerly the engine should render.
type RenderPriority int

const (
	PriorityNormal RenderPriority = iota
	PriorityHigh
)

// Settings is the configuration baseline an engine is created with and
// returned to on reset and wake.
type Settings struct {
	ScriptingEnabled    bool
	LocalStorageEnabled bool
	FormDataPersistence bool
	CookiesEnabled      bool
	HardwareLayer       bool
	WideViewport        bool
	ImageLoadingEnabled bool
	CacheMode           CacheMode
	ViewportWidth       int
	ViewportHeight      int
}

// Baseline returns the fixed configuration every engine starts from.
// Image loading stays off until a tab is brought to the foreground.
func Baseline(width, height int) Settings {
	if width <= 0 {
		width = DefaultViewportWidth
	}
	if height <= 0 {
		height = DefaultViewportHeight
	}
	return Settings{
		ScriptingEnabled:    true,
		LocalStorageEnabled: true,
		FormDataPersistence: true,
		CookiesEnabled:      true,
		HardwareLayer:       true,
		WideViewport:        true,
		ImageLoadingEnabled: false,
		CacheMode:           CacheDefault,
		ViewportWidth:       width,
		ViewportHeight:      height,
	}
}

// Default mobile viewport.
const (
	DefaultViewportWidth  = 412
	DefaultViewportHeight = 915
)
