// Package geoip resolves request origin countries for the dispatch audit
// trail. Resolution is best effort; a missing database or an unresolvable
// address just leaves the country blank.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned when no database is configured.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// CountryResolver maps an IP address to an ISO 3166-1 country code.
type CountryResolver interface {
	CountryCode(ip string) (string, error)
}

// Resolver reads a MaxMind GeoIP2 country database.
type Resolver struct {
	reader *geoip2.Reader
}

// NewResolver opens the database at path. An empty path disables resolution
// and returns a nil resolver, which callers treat as "no country".
func NewResolver(path string) (CountryResolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// CountryCode resolves ip to a country code. Private and loopback addresses
// resolve to "" without a database read; dev traffic and in-cluster callbacks
// have no meaningful origin.
func (r *Resolver) CountryCode(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return "", nil
	}
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	record, err := r.reader.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	if record == nil {
		return "", nil
	}
	return record.Country.IsoCode, nil
}

// Close releases the database reader.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
