package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// throttle rates used to model the render layer: a "software" layer is a
// CPU-throttled page.
const (
	hardwareLayerRate = 1
	softwareLayerRate = 4
)

// RodOptions controls the Chrome instance behind a RodFactory.
type RodOptions struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	Proxy      string
	Stealth    bool
	BlockAds   bool
	Baseline   Settings
}

// RodFactory owns one Chrome process and creates a page per engine.
type RodFactory struct {
	browser *rod.Browser
	opts    RodOptions
}

// NewRodFactory launches Chrome and connects to it.
func NewRodFactory(opts RodOptions) (*RodFactory, error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)

	if opts.BrowserBin != "" {
		l = l.Bin(opts.BrowserBin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	return &RodFactory{browser: browser, opts: opts}, nil
}

// Create opens a blank page and applies the baseline configuration.
func (f *RodFactory) Create(ctx context.Context) (Engine, error) {
	page, err := f.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: BlankURL})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Drop the request context: the page outlives the acquire call.
	page = page.Context(context.Background())

	if f.opts.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	filter := &requestFilter{blockAds: f.opts.BlockAds}
	e := &RodEngine{
		page:   page,
		filter: filter,
		router: installHijack(page, filter),
	}
	if err := e.ApplySettings(f.opts.Baseline); err != nil {
		_ = e.Destroy()
		return nil, fmt.Errorf("apply baseline: %w", err)
	}
	return e, nil
}

// Close kills the browser and every page it owns.
func (f *RodFactory) Close() error {
	return f.browser.Close()
}

// RodEngine is an Engine backed by a single Chrome page.
type RodEngine struct {
	page   *rod.Page
	filter *requestFilter
	router *rod.HijackRouter

	loading atomic.Bool

	mu        sync.Mutex
	cacheMode CacheMode
	destroyed bool
}

var _ Engine = (*RodEngine)(nil)

func (e *RodEngine) LoadContent(ctx context.Context, rawURL string) error {
	e.loading.Store(true)
	defer e.loading.Store(false)

	p := e.page.Context(ctx)
	if err := p.Navigate(rawURL); err != nil {
		return err
	}
	if rawURL == BlankURL {
		return nil
	}
	return p.WaitLoad()
}

func (e *RodEngine) StopLoading() error {
	return e.page.StopLoading()
}

func (e *RodEngine) EvaluateScript(ctx context.Context, code string) (gson.JSON, error) {
	res, err := e.page.Context(ctx).Eval(code)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (e *RodEngine) ClearCache(includeDisk bool) error {
	if includeDisk {
		return proto.NetworkClearBrowserCache{}.Call(e.page)
	}
	info, err := e.page.Info()
	if err != nil {
		return err
	}
	origin := originOf(info.URL)
	if origin == "" {
		return nil
	}
	return proto.StorageClearDataForOrigin{Origin: origin, StorageTypes: "cache_storage"}.Call(e.page)
}

func (e *RodEngine) ClearHistory() error {
	return proto.PageResetNavigationHistory{}.Call(e.page)
}

func (e *RodEngine) ClearFormData() error {
	_, err := e.page.Eval(`() => {
		document.querySelectorAll('form').forEach(f => { try { f.reset(); } catch (e) {} });
	}`)
	return err
}

func (e *RodEngine) PauseTimers() error {
	return proto.PageSetWebLifecycleState{State: proto.PageSetWebLifecycleStateStateFrozen}.Call(e.page)
}

func (e *RodEngine) ResumeTimers() error {
	return proto.PageSetWebLifecycleState{State: proto.PageSetWebLifecycleStateStateActive}.Call(e.page)
}

func (e *RodEngine) SetVisible(visible bool) error {
	if err := (proto.EmulationSetFocusEmulationEnabled{Enabled: visible}).Call(e.page); err != nil {
		return err
	}
	if visible {
		_, err := e.page.Activate()
		return err
	}
	return nil
}

func (e *RodEngine) SetHardwareLayer(enabled bool) error {
	rate := float64(softwareLayerRate)
	if enabled {
		rate = hardwareLayerRate
	}
	return proto.EmulationSetCPUThrottlingRate{Rate: rate}.Call(e.page)
}

func (e *RodEngine) SetImageLoadingEnabled(enabled bool) error {
	e.filter.blockImages.Store(!enabled)
	return nil
}

func (e *RodEngine) SetCacheMode(mode CacheMode) error {
	e.mu.Lock()
	prev := e.cacheMode
	e.cacheMode = mode
	e.mu.Unlock()

	if err := (proto.NetworkEnable{}).Call(e.page); err != nil {
		return err
	}
	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: mode == NoCache}).Call(e.page); err != nil {
		return err
	}
	if mode == CacheOnly || prev == CacheOnly {
		return proto.NetworkEmulateNetworkConditions{
			Offline:            mode == CacheOnly,
			Latency:            0,
			DownloadThroughput: -1,
			UploadThroughput:   -1,
		}.Call(e.page)
	}
	return nil
}

func (e *RodEngine) SetRenderPriority(p RenderPriority) error {
	if p == PriorityHigh {
		_, err := e.page.Activate()
		return err
	}
	return nil
}

func (e *RodEngine) ClearFocus() error {
	_, err := e.page.Eval(`() => {
		const el = document.activeElement;
		if (el && el !== document.body && el.blur) el.blur();
	}`)
	return err
}

func (e *RodEngine) ApplySettings(s Settings) error {
	if err := e.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.ViewportWidth,
		Height:            s.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            s.WideViewport,
	}); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}
	if err := (proto.EmulationSetScriptExecutionDisabled{Value: !s.ScriptingEnabled}).Call(e.page); err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	if s.LocalStorageEnabled {
		if err := (proto.DOMStorageEnable{}).Call(e.page); err != nil {
			return fmt.Errorf("dom storage: %w", err)
		}
	}
	if err := e.SetHardwareLayer(s.HardwareLayer); err != nil {
		return fmt.Errorf("render layer: %w", err)
	}
	if err := e.SetImageLoadingEnabled(s.ImageLoadingEnabled); err != nil {
		return err
	}
	return e.SetCacheMode(s.CacheMode)
}

func (e *RodEngine) Viewport(ctx context.Context) (int, int, error) {
	res, err := proto.PageGetLayoutMetrics{}.Call(e.page.Context(ctx))
	if err != nil {
		return 0, 0, err
	}
	vp := res.CSSVisualViewport
	if vp == nil {
		return 0, 0, fmt.Errorf("layout metrics: no visual viewport")
	}
	return int(vp.ClientWidth), int(vp.ClientHeight), nil
}

func (e *RodEngine) IsLoading() bool {
	if e.loading.Load() {
		return true
	}
	res, err := e.page.Timeout(time.Second).Eval(`() => document.readyState`)
	if err != nil {
		return false
	}
	return res.Value.Str() != "complete"
}

func (e *RodEngine) FreeMemory() error {
	return proto.HeapProfilerCollectGarbage{}.Call(e.page)
}

func (e *RodEngine) Content(ctx context.Context) (*PageContent, error) {
	p := e.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("page html: %w", err)
	}
	out := &PageContent{HTML: html}
	if info, err := p.Info(); err == nil {
		out.URL = info.URL
		out.Title = info.Title
	}
	return out, nil
}

func (e *RodEngine) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	list, err := e.page.Context(ctx).Cookies([]string{rawURL})
	if err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(list))
	for _, c := range list {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return cookies, nil
}

func (e *RodEngine) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	e.mu.Unlock()

	if e.router != nil {
		_ = e.router.Stop()
	}
	return e.page.Close()
}

// originOf returns scheme://host for http(s) URLs and "" otherwise.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
