package engine

import (
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// adDomains is a set of well-known ad and tracking domains to block
// when ad blocking is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"facebook.net":          {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"chartbeat.com":         {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"sharethis.com":         {},
	"addthis.com":           {},
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	if _, ok := adDomains[host]; ok {
		return true
	}
	// "pagead2.googlesyndication.com" → "googlesyndication.com"
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
	return false
}

// requestFilter is the per-page interception state. Image blocking is
// toggled at runtime by SetImageLoadingEnabled; ad blocking is fixed at
// creation.
type requestFilter struct {
	blockImages atomic.Bool
	blockAds    bool
}

// blocks reports whether a request of the given type and URL must fail.
func (f *requestFilter) blocks(rt proto.NetworkResourceType, rawURL string) bool {
	if f.blockImages.Load() && rt == proto.NetworkResourceTypeImage {
		return true
	}
	if f.blockAds {
		if u, err := url.Parse(rawURL); err == nil && isAdDomain(u.Hostname()) {
			return true
		}
	}
	return false
}

// installHijack mounts a router on the page that consults filter for every
// request. The router lives as long as the page; Destroy stops it.
func installHijack(page *rod.Page, filter *requestFilter) *rod.HijackRouter {
	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if filter.blocks(ctx.Request.Type(), ctx.Request.URL().String()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	go router.Run()

	return router
}
