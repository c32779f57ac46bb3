package models

import "time"

// TabInfo is a tab record plus the live state of its engine.
type TabInfo struct {
	Tab

	// State is the engine binding: "running", "hibernated", or "closed"
	// when a persisted tab has no engine.
	State string `json:"state"`

	// EngineID identifies the pooled engine serving the tab.
	EngineID string `json:"engine_id,omitempty"`
}

// TabResponse is returned by the single-tab endpoints.
type TabResponse struct {
	Success bool         `json:"success"`
	Tab     *TabInfo     `json:"tab,omitempty"`
	Timing  *TimingInfo  `json:"timing,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// TabListResponse is the response for GET /api/v1/tabs.
type TabListResponse struct {
	Success bool      `json:"success"`
	Tabs    []TabInfo `json:"tabs"`
}

// EvalResponse is the response for POST /api/v1/tabs/:id/eval.
type EvalResponse struct {
	Success bool         `json:"success"`
	Result  any          `json:"result"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// SnapshotResponse is the response for GET /api/v1/tabs/:id/snapshot.
type SnapshotResponse struct {
	Success bool `json:"success"`

	// URL is the page the snapshot was taken from.
	URL string `json:"url"`

	// Format is the output format of Content.
	Format string `json:"format"`

	// Content is the cleaned page in the requested format.
	Content string `json:"content"`

	Metadata Metadata    `json:"metadata"`
	Links    LinksResult `json:"links"`
	Tokens   TokenInfo   `json:"tokens"`

	// Fingerprint is the simhash of Content as 16 hex digits. Changed is
	// nil on a tab's first snapshot, then reports whether the content moved
	// away from the previous snapshot.
	Fingerprint string `json:"fingerprint,omitempty"`
	Changed     *bool  `json:"changed,omitempty"`

	// CacheStatus is "hit" or "miss", or empty when caching was bypassed.
	CacheStatus string `json:"cache_status,omitempty"`

	Timing *TimingInfo  `json:"timing,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// LinksResult separates extracted links into internal and external groups.
type LinksResult struct {
	Internal []Link `json:"internal"`
	External []Link `json:"external"`
}

// Link represents a hyperlink extracted from the page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Metadata holds page-level information extracted from a snapshot.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Author      string `json:"author,omitempty"`
	Language    string `json:"language,omitempty"`
}

// TokenInfo provides before/after token estimates to show cleaning efficacy.
type TokenInfo struct {
	OriginalEstimate int     `json:"original_estimate"`
	CleanedEstimate  int     `json:"cleaned_estimate"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// TimingInfo breaks down the time spent serving a request.
type TimingInfo struct {
	TotalMs      int64 `json:"total_ms"`
	NavigationMs int64 `json:"navigation_ms,omitempty"`
	CleaningMs   int64 `json:"cleaning_ms,omitempty"`
}

// FormsResponse is the response for GET /api/v1/tabs/:id/forms.
type FormsResponse struct {
	Success bool         `json:"success"`
	URL     string       `json:"url"`
	Forms   []Form       `json:"forms"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// Form describes one <form> on the page.
type Form struct {
	ID     string      `json:"id,omitempty"`
	Name   string      `json:"name,omitempty"`
	Action string      `json:"action,omitempty"`
	Method string      `json:"method"`
	Fields []FormField `json:"fields"`
}

// FormField describes one named control. Password values are masked.
type FormField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Value    string   `json:"value,omitempty"`
	Label    string   `json:"label,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// DownloadResponse is the response for POST /api/v1/tabs/:id/download.
type DownloadResponse struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	FinalURL    string `json:"final_url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`

	// Body is base64 encoded.
	Body string `json:"body"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// PoolStats reports the state of the engine pool.
type PoolStats struct {
	Capacity   int   `json:"capacity"`
	Active     int   `json:"active"`
	Hibernated int   `json:"hibernated"`
	Idle       int   `json:"idle"`
	Created    int64 `json:"created"`
	Reused     int64 `json:"reused"`
	Destroyed  int64 `json:"destroyed"`
	Trims      int64 `json:"trims"`
}

// EngineInfo describes one pooled engine.
type EngineInfo struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	TabID          string    `json:"tab_id,omitempty"`
	FootprintBytes int64     `json:"footprint_bytes"`
	LastTrim       time.Time `json:"last_trim,omitzero"`
	Uses           int       `json:"uses"`
	CreatedAt      time.Time `json:"created_at"`
}

// PoolResponse is the response for GET /api/v1/pool and the pool actions.
type PoolResponse struct {
	Success bool         `json:"success"`
	Stats   PoolStats    `json:"stats"`
	Engines []EngineInfo `json:"engines,omitempty"`

	// Affected is the number of engines created or destroyed by an action.
	Affected *int `json:"affected,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string    `json:"status"` // "healthy" or "degraded"
	Uptime  string    `json:"uptime"`
	Pool    PoolStats `json:"pool"`
	Version string    `json:"version"`
}

// ErrorResponse is the body of every failed request without a richer
// response type.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
