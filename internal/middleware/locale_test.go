package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"explicit header", map[string]string{"X-Locale": "id-ID"}, "id"},
		{"accept language indonesian", map[string]string{"Accept-Language": "id, en;q=0.8"}, "id"},
		{"accept language english", map[string]string{"Accept-Language": "en-US,en;q=0.9"}, "en"},
		{"unsupported falls back", map[string]string{"Accept-Language": "fr-FR"}, "en"},
		{"no headers", nil, "en"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			if got := detectLocale(req, ""); got != tc.want {
				t.Fatalf("detectLocale = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveCountryHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("CF-IPCountry", "br")
	if got := resolveCountry(req, nil); got != "BR" {
		t.Fatalf("resolveCountry = %q, want BR", got)
	}
}

func TestResolveCountryLookup(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:4455"
	lookup := func(ip string) (string, error) {
		if ip != "203.0.113.9" {
			t.Fatalf("lookup ip = %q", ip)
		}
		return "DE", nil
	}
	if got := resolveCountry(req, lookup); got != "DE" {
		t.Fatalf("resolveCountry = %q, want DE", got)
	}
}

func TestClientIPForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	req.Header.Set("X-Forwarded-For", "invalid, 203.0.113.1")
	if got := ClientIP(req); got != "203.0.113.1" {
		t.Fatalf("ClientIP = %q, want first valid forwarded ip", got)
	}
}
