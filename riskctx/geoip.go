package riskctx

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// GeoIPResolver resolves countries from a MaxMind GeoIP2 or GeoLite2 database.
// It is safe for concurrent use.
type GeoIPResolver struct {
	reader countryReader
}

// OpenGeoIP opens the .mmdb file at path. Any country or city database works.
func OpenGeoIP(path string) (*GeoIPResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPResolver{reader: reader}, nil
}

func (g *GeoIPResolver) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

func (g *GeoIPResolver) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid ip address: %q", ip)
	}
	record, err := g.reader.Country(parsed)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}
