package engine

import (
	"context"
	"net/http"

	"github.com/ysmood/gson"
)

// Engine is the capability surface of one render-engine instance (a browser
// page). Implementations must be safe for concurrent use: the pool drives
// lifecycle calls while a tab may be evaluating script on the same engine.
type Engine interface {
	// LoadContent navigates to url.
	LoadContent(ctx context.Context, url string) error

	// StopLoading aborts any in-flight navigation.
	StopLoading() error

	// EvaluateScript runs code in the page and returns its JSON result.
	// Callers that don't care about the result run it in a goroutine.
	EvaluateScript(ctx context.Context, code string) (gson.JSON, error)

	ClearCache(includeDisk bool) error
	ClearHistory() error
	ClearFormData() error

	PauseTimers() error
	ResumeTimers() error

	SetVisible(visible bool) error
	SetHardwareLayer(enabled bool) error
	SetImageLoadingEnabled(enabled bool) error
	SetCacheMode(mode CacheMode) error
	SetRenderPriority(p RenderPriority) error

	// ClearFocus blurs the focused input, if any.
	ClearFocus() error

	// ApplySettings (re)applies a configuration baseline.
	ApplySettings(s Settings) error

	// Viewport reports the visible size in CSS pixels.
	Viewport(ctx context.Context) (width, height int, err error)

	// IsLoading reports whether a navigation is in progress.
	IsLoading() bool

	// FreeMemory asks the engine to release internal caches.
	FreeMemory() error

	// Content returns the rendered HTML plus the current URL and title.
	Content(ctx context.Context) (*PageContent, error)

	// Cookies returns the cookies the page would send to url.
	Cookies(ctx context.Context, url string) ([]*http.Cookie, error)

	// Destroy releases the engine permanently.
	Destroy() error
}

// Factory constructs engines with the baseline configuration applied.
type Factory interface {
	Create(ctx context.Context) (Engine, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Engine, error)

func (f FactoryFunc) Create(ctx context.Context) (Engine, error) { return f(ctx) }

// PageContent is a snapshot of what an engine is currently showing.
type PageContent struct {
	HTML  string
	URL   string
	Title string
}

// BlankURL is loaded into engines that are reset or parked.
const BlankURL = "about:blank"
