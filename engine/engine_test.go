package engine

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestIsAdDomain(t *testing.T) {
	cases := map[string]bool{
		"doubleclick.net":               true,
		"pagead2.googlesyndication.com": true,
		"STATS.G.DOUBLECLICK.NET":       true,
		"example.com":                   false,
		"notdoubleclick.net":            false,
		"doubleclick.net.example.com":   false,
		"":                              false,
	}
	for host, want := range cases {
		assert.Equal(t, want, isAdDomain(host), host)
	}
}

func TestRequestFilter(t *testing.T) {
	f := &requestFilter{}
	assert.False(t, f.blocks(proto.NetworkResourceTypeImage, "https://example.com/a.png"))

	f.blockImages.Store(true)
	assert.True(t, f.blocks(proto.NetworkResourceTypeImage, "https://example.com/a.png"))
	assert.False(t, f.blocks(proto.NetworkResourceTypeDocument, "https://example.com/"))
	assert.False(t, f.blocks(proto.NetworkResourceTypeScript, "https://doubleclick.net/ad.js"),
		"ads pass while ad blocking is off")

	f.blockAds = true
	assert.True(t, f.blocks(proto.NetworkResourceTypeScript, "https://doubleclick.net/ad.js"))
	assert.False(t, f.blocks(proto.NetworkResourceTypeScript, "https://example.com/app.js"))
	assert.False(t, f.blocks(proto.NetworkResourceTypeScript, "::not a url"))
}

func TestBaseline(t *testing.T) {
	s := Baseline(0, -1)
	assert.Equal(t, DefaultViewportWidth, s.ViewportWidth)
	assert.Equal(t, DefaultViewportHeight, s.ViewportHeight)
	assert.True(t, s.ScriptingEnabled)
	assert.True(t, s.LocalStorageEnabled)
	assert.True(t, s.FormDataPersistence)
	assert.True(t, s.HardwareLayer)
	assert.True(t, s.WideViewport)
	assert.False(t, s.ImageLoadingEnabled, "images stay off until foregrounded")

	s = Baseline(800, 600)
	assert.Equal(t, 800, s.ViewportWidth)
	assert.Equal(t, 600, s.ViewportHeight)
}

func TestCacheModeString(t *testing.T) {
	assert.Equal(t, "cache_else_network", CacheElseNetwork.String())
	assert.Equal(t, "cache_only", CacheOnly.String())
	assert.Equal(t, "CacheMode(9)", CacheMode(9).String())
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://example.com:8443", originOf("https://example.com:8443/a?b=c"))
	assert.Equal(t, "", originOf("about:blank"))
	assert.Equal(t, "", originOf("::"))
}
