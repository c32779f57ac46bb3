package models

// OpenTabRequest is the payload for POST /api/v1/tabs.
type OpenTabRequest struct {
	// TabID lets the host screen pick its own identifier. Reusing the id
	// of an open tab returns that tab. Default: a new ULID.
	TabID string `json:"tab_id,omitempty" binding:"omitempty,max=128"`

	// URL is loaded right after the engine is bound. Optional.
	URL string `json:"url,omitempty" binding:"omitempty,url"`

	// Background opens the tab hidden: images off, cache-only loads.
	Background bool `json:"background,omitempty"`

	// Position orders tabs in listings. Default: after the last tab.
	Position *int `json:"position,omitempty" binding:"omitempty,min=0"`
}

// NavigateRequest is the payload for POST /api/v1/tabs/:id/navigate.
type NavigateRequest struct {
	URL string `json:"url" binding:"required,url"`

	// Timeout in seconds for the navigation. Default: server setting. Max: 120.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`
}

// EvalRequest is the payload for POST /api/v1/tabs/:id/eval.
type EvalRequest struct {
	// Script is a JavaScript expression or a function such as
	// "() => document.title".
	Script string `json:"script" binding:"required"`

	// Timeout in seconds. Default: 10. Max: 60.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=60"`
}

// Defaults applies default values to unset fields.
func (r *EvalRequest) Defaults() {
	if r.Timeout == 0 {
		r.Timeout = 10
	}
}

// VisibilityRequest is the payload for POST /api/v1/tabs/:id/visibility.
type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SnapshotQuery holds the query parameters of GET /api/v1/tabs/:id/snapshot.
type SnapshotQuery struct {
	// Format: "markdown" (default), "html", "text".
	Format string `form:"format" binding:"omitempty,oneof=markdown html text"`

	// Mode: "readability" (default) or "raw".
	Mode string `form:"mode" binding:"omitempty,oneof=readability raw"`

	// Selector narrows the page to matching elements before cleaning.
	Selector string `form:"selector"`

	// MaxAge in seconds; a cached snapshot younger than this is served.
	// 0 bypasses the cache.
	MaxAge int `form:"max_age" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (q *SnapshotQuery) Defaults() {
	if q.Format == "" {
		q.Format = "markdown"
	}
	if q.Mode == "" {
		q.Mode = "readability"
	}
}

// DownloadRequest is the payload for POST /api/v1/tabs/:id/download.
type DownloadRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// PreloadRequest is the payload for POST /api/v1/pool/preload.
type PreloadRequest struct {
	Count int `json:"count" binding:"required,min=1,max=32"`
}

// ShrinkRequest is the payload for POST /api/v1/pool/shrink.
type ShrinkRequest struct {
	// Keep is the number of idle engines left after shrinking.
	Keep int `json:"keep" binding:"min=0"`
}
