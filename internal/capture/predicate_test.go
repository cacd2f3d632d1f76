package capture

import "testing"

func TestIsAnalyticsCollectURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"canonical collect", "https://www.google-analytics.com/g/collect?v=2&tid=G-AAAA", true},
		{"second canonical host", "https://analytics.google.com/g/collect?tid=G-AAAA", true},
		{"regioned path variant", "https://www.google-analytics.com/region1/g/collect?tid=G-AAAA", true},
		{"wrong path", "https://www.google-analytics.com/collect?tid=UA-1", false},
		{"non-canonical host", "https://stats.example.com/g/collect", false},
		{"denied session replay host", "https://app.hotjar.com/g/collect", false},
		{"denied consent host", "https://cdn.cookielaw.org/g/collect", false},
		{"denied ad server", "https://securepubads.g.doubleclick.net/g/collect", false},
		{"garbage", "://not-a-url", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAnalyticsCollectURL(tc.url); got != tc.want {
				t.Fatalf("IsAnalyticsCollectURL(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}

func TestIsAnalyticsCollectURLIdempotent(t *testing.T) {
	u := "https://www.google-analytics.com/g/collect?v=2&tid=G-AAAA"
	first := IsAnalyticsCollectURL(u)
	for i := 0; i < 3; i++ {
		if got := IsAnalyticsCollectURL(u); got != first {
			t.Fatalf("predicate not stable across calls")
		}
	}
}

func TestIsTagManagerLoaderURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://www.googletagmanager.com/gtm.js?id=GTM-ZZZZ", true},
		{"https://www.googletagmanager.com/gtag/js?id=G-AAAA", false},
		{"https://cdn.example.com/gtm.js?id=GTM-ZZZZ", false},
	}
	for _, tc := range cases {
		if got := IsTagManagerLoaderURL(tc.url); got != tc.want {
			t.Fatalf("IsTagManagerLoaderURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
