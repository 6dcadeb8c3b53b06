package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

var supportedLocales = language.NewMatcher([]language.Tag{
	language.English,    // default
	language.Indonesian, // id
})

// Locale detects the caller's locale (for localized error messages) and a
// best-effort origin country (for the dispatch audit trail) and stores both
// in the request context.
func Locale(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country := resolveCountry(r, lookup); country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return normalizeLocale(v)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, index, _ := supportedLocales.Match(tags...)
			if index == 1 {
				return "id"
			}
			return "en"
		}
	}
	if fallback != "" {
		return normalizeLocale(fallback)
	}
	return "en"
}

func normalizeLocale(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "id") {
		return "id"
	}
	return "en"
}

func resolveCountry(r *http.Request, lookup CountryLookup) string {
	for _, key := range []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"} {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LocaleFromContext returns the detected locale, defaulting to English.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}
