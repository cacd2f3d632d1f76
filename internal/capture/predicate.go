// predicate.go — URL classification for the capture layers.
// Every observation layer (init-script wrap, CDP listener, mutation
// observer) funnels candidate URLs through the same predicates, which is
// what makes cross-layer deduplication by URL safe.
package capture

import (
	"net/url"
	"strings"
)

const (
	// collectPathFragment marks an analytics collect hit.
	collectPathFragment = "/g/collect"
	// tagManagerLoaderPath is the container loader script path.
	tagManagerLoaderPath = "/gtm.js"
	// tagManagerHost is the canonical container host.
	tagManagerHost = "www.googletagmanager.com"

	// AnalyticsIDPrefix and TagManagerIDPrefix are the identifier prefixes
	// used by window extraction when walking window.google_tag_manager keys.
	AnalyticsIDPrefix  = "G-"
	TagManagerIDPrefix = "GTM-"
)

// analyticsHosts are the canonical collect endpoints.
var analyticsHosts = map[string]bool{
	"www.google-analytics.com": true,
	"analytics.google.com":     true,
}

// analyticsHostDenyList is a closed false-positive guard: hosts whose
// traffic has historically matched loose collect-path checks. Tracked as
// data, not code — extend it when a new impostor shows up in production.
var analyticsHostDenyList = map[string]bool{
	"app.hotjar.com":                 true, // session replay
	"cdn.cookielaw.org":              true, // consent management
	"securepubads.g.doubleclick.net": true, // ad server
}

// IsAnalyticsCollectURL reports whether raw is an analytics collect hit:
// collect path fragment present, host canonical, host not denied.
func IsAnalyticsCollectURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.Contains(u.Path, collectPathFragment) {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if analyticsHostDenyList[host] {
		return false
	}
	return analyticsHosts[host]
}

// IsTagManagerLoaderURL reports whether raw is the container loader script.
func IsTagManagerLoaderURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), tagManagerHost) {
		return false
	}
	return u.Path == tagManagerLoaderPath
}

// DeniedAnalyticsHosts returns the deny list for diagnostics.
func DeniedAnalyticsHosts() []string {
	hosts := make([]string, 0, len(analyticsHostDenyList))
	for h := range analyticsHostDenyList {
		hosts = append(hosts, h)
	}
	return hosts
}
