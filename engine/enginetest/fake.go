// Package enginetest provides in-memory engine fakes for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/use-agent/tabhost/engine"
	"github.com/ysmood/gson"
)

// ErrInjected is returned by methods configured to fail.
var ErrInjected = errors.New("enginetest: injected failure")

// ErrDestroyed is returned by every method once Destroy has been called.
var ErrDestroyed = errors.New("enginetest: engine destroyed")

// Fake is a recording Engine. Every call is appended to Calls; methods named
// in Fail return ErrInjected.
type Fake struct {
	ID int

	mu        sync.Mutex
	calls     []string
	fail      map[string]bool
	url       string
	html      string
	title     string
	width     int
	height    int
	loading   bool
	visible   bool
	paused    bool
	hardware  bool
	images    bool
	cacheMode engine.CacheMode
	priority  engine.RenderPriority
	settings  engine.Settings
	destroyed bool
	storage   map[string]string
	scripts   []string
	evalFunc  func(code string) (gson.JSON, error)
	cookies   []*http.Cookie
	site      map[string]Page
}

// Page is a document a Fake shows after LoadContent of its URL.
type Page struct {
	HTML  string
	Title string
}

// NewFake returns a Fake showing a blank page at the default viewport.
func NewFake(id int) *Fake {
	return &Fake{
		ID:      id,
		fail:    make(map[string]bool),
		url:     engine.BlankURL,
		width:   engine.DefaultViewportWidth,
		height:  engine.DefaultViewportHeight,
		visible: true,
		storage: make(map[string]string),
		site:    make(map[string]Page),
	}
}

// Serve makes LoadContent(url) show page.
func (f *Fake) Serve(url string, page Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.site[url] = page
}

var _ engine.Engine = (*Fake)(nil)

// record notes the call and returns the configured outcome.
func (f *Fake) record(name string) error {
	f.calls = append(f.calls, name)
	if f.destroyed && name != "Destroy" {
		return ErrDestroyed
	}
	if f.fail[name] {
		return fmt.Errorf("%s: %w", name, ErrInjected)
	}
	return nil
}

// FailOn makes the named methods return ErrInjected.
func (f *Fake) FailOn(methods ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range methods {
		f.fail[m] = true
	}
}

// Heal clears every injected failure.
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]bool)
}

// Calls returns a copy of the recorded call names.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often name was called.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// SetViewport changes the reported viewport.
func (f *Fake) SetViewport(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height = w, h
}

// SetLoading changes what IsLoading reports.
func (f *Fake) SetLoading(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = v
}

// SetPage sets the HTML and title returned by Content.
func (f *Fake) SetPage(html, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html, f.title = html, title
}

// SetStorage seeds a localStorage entry.
func (f *Fake) SetStorage(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storage[key] = value
}

// Storage returns a copy of the localStorage entries.
func (f *Fake) Storage() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.storage))
	for k, v := range f.storage {
		out[k] = v
	}
	return out
}

// OnEval overrides EvaluateScript.
func (f *Fake) OnEval(fn func(code string) (gson.JSON, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalFunc = fn
}

// Scripts returns every script passed to EvaluateScript.
func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

// SetCookies sets the cookies returned by Cookies.
func (f *Fake) SetCookies(c ...*http.Cookie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = c
}

// State is a snapshot of the fake's rendering flags.
type State struct {
	URL       string
	Visible   bool
	Paused    bool
	Hardware  bool
	Images    bool
	CacheMode engine.CacheMode
	Priority  engine.RenderPriority
	Settings  engine.Settings
	Destroyed bool
}

// State returns the current flags.
func (f *Fake) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		URL:       f.url,
		Visible:   f.visible,
		Paused:    f.paused,
		Hardware:  f.hardware,
		Images:    f.images,
		CacheMode: f.cacheMode,
		Priority:  f.priority,
		Settings:  f.settings,
		Destroyed: f.destroyed,
	}
}

func (f *Fake) LoadContent(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("LoadContent"); err != nil {
		return err
	}
	f.url = url
	if page, ok := f.site[url]; ok {
		f.html, f.title = page.HTML, page.Title
	} else if url == engine.BlankURL {
		f.html, f.title = "", ""
	}
	return nil
}

func (f *Fake) StopLoading() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StopLoading"); err != nil {
		return err
	}
	f.loading = false
	return nil
}

// EvaluateScript understands the transient-storage sweep issued by trims:
// any script is recorded, and OnEval can override the result.
func (f *Fake) EvaluateScript(_ context.Context, code string) (gson.JSON, error) {
	f.mu.Lock()
	if err := f.record("EvaluateScript"); err != nil {
		f.mu.Unlock()
		return gson.New(nil), err
	}
	f.scripts = append(f.scripts, code)
	fn := f.evalFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(code)
	}
	return gson.New(nil), nil
}

// DropStorage removes storage keys starting with any prefix; tests call it
// from an OnEval hook to emulate the transient sweep.
func (f *Fake) DropStorage(prefixes ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.storage {
		for _, p := range prefixes {
			if len(k) >= len(p) && k[:len(p)] == p {
				delete(f.storage, k)
				n++
				break
			}
		}
	}
	return n
}

func (f *Fake) ClearCache(bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ClearCache")
}

func (f *Fake) ClearHistory() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ClearHistory")
}

func (f *Fake) ClearFormData() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ClearFormData")
}

func (f *Fake) PauseTimers() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PauseTimers"); err != nil {
		return err
	}
	f.paused = true
	return nil
}

func (f *Fake) ResumeTimers() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ResumeTimers"); err != nil {
		return err
	}
	f.paused = false
	return nil
}

func (f *Fake) SetVisible(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetVisible"); err != nil {
		return err
	}
	f.visible = v
	return nil
}

func (f *Fake) SetHardwareLayer(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetHardwareLayer"); err != nil {
		return err
	}
	f.hardware = v
	return nil
}

func (f *Fake) SetImageLoadingEnabled(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetImageLoadingEnabled"); err != nil {
		return err
	}
	f.images = v
	return nil
}

func (f *Fake) SetCacheMode(m engine.CacheMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetCacheMode"); err != nil {
		return err
	}
	f.cacheMode = m
	return nil
}

func (f *Fake) SetRenderPriority(p engine.RenderPriority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetRenderPriority"); err != nil {
		return err
	}
	f.priority = p
	return nil
}

func (f *Fake) ClearFocus() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ClearFocus")
}

func (f *Fake) ApplySettings(s engine.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplySettings"); err != nil {
		return err
	}
	f.settings = s
	f.hardware = s.HardwareLayer
	f.images = s.ImageLoadingEnabled
	f.cacheMode = s.CacheMode
	return nil
}

func (f *Fake) Viewport(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Viewport"); err != nil {
		return 0, 0, err
	}
	return f.width, f.height, nil
}

func (f *Fake) IsLoading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *Fake) FreeMemory() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("FreeMemory")
}

func (f *Fake) Content(context.Context) (*engine.PageContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Content"); err != nil {
		return nil, err
	}
	return &engine.PageContent{HTML: f.html, URL: f.url, Title: f.title}, nil
}

func (f *Fake) Cookies(context.Context, string) ([]*http.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Cookies"); err != nil {
		return nil, err
	}
	return append([]*http.Cookie(nil), f.cookies...), nil
}

func (f *Fake) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Destroy"); err != nil {
		return err
	}
	f.destroyed = true
	return nil
}

// Destroyed reports whether Destroy has been called.
func (f *Fake) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// Factory counts creations and hands out Fakes.
type Factory struct {
	created atomic.Int64

	mu      sync.Mutex
	engines []*Fake
	fail    error
	onNew   func(*Fake)
	site    map[string]Page
}

var _ engine.Factory = (*Factory)(nil)

// NewFactory returns a Factory that always succeeds.
func NewFactory() *Factory {
	return &Factory{site: make(map[string]Page)}
}

// Serve makes every Fake created from now on serve page at url.
func (f *Factory) Serve(url string, page Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.site[url] = page
}

// FailWith makes subsequent Create calls return err (nil restores success).
func (f *Factory) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// OnNew runs fn against each new Fake before it is returned.
func (f *Factory) OnNew(fn func(*Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNew = fn
}

func (f *Factory) Create(context.Context) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	fake := NewFake(len(f.engines) + 1)
	_ = fake.ApplySettings(engine.Baseline(0, 0))
	fake.ResetCalls()
	for url, page := range f.site {
		fake.site[url] = page
	}
	if f.onNew != nil {
		f.onNew(fake)
	}
	f.engines = append(f.engines, fake)
	f.created.Add(1)
	return fake, nil
}

// Created returns the number of successful creations.
func (f *Factory) Created() int {
	return int(f.created.Load())
}

// Engines returns every Fake created so far.
func (f *Factory) Engines() []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.engines...)
}
