package pipeline

import "testing"

func TestSameLocation(t *testing.T) {
	tests := []struct {
		name   string
		target string
		final  string
		want   bool
	}{
		{"identical", "https://example.com/shop", "https://example.com/shop", true},
		{"trailing slash", "https://example.com/shop", "https://example.com/shop/", true},
		{"scheme upgrade", "http://example.com", "https://example.com/", true},
		{"www added", "https://example.com", "https://www.example.com/", true},
		{"path redirect", "https://example.com/shop", "https://example.com/closed", false},
		{"host redirect", "https://example.com", "https://parking.example.net", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameLocation(tt.target, tt.final); got != tt.want {
				t.Fatalf("sameLocation(%q, %q) = %v, want %v", tt.target, tt.final, got, tt.want)
			}
		})
	}
}

func TestKeyPresent(t *testing.T) {
	keys := []string{"GTM-ABC123", "G-XYZ789 ", "debugGroup"}

	tests := []struct {
		name     string
		expected string
		want     bool
	}{
		{"exact", "GTM-ABC123", true},
		{"case insensitive", "g-xyz789", true},
		{"trimmed", " G-XYZ789", true},
		{"absent", "G-OTHER", false},
		{"empty expected never matches", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keyPresent(keys, tt.expected); got != tt.want {
				t.Fatalf("keyPresent(%q) = %v, want %v", tt.expected, got, tt.want)
			}
		})
	}
}
