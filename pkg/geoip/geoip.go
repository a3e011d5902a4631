// Package geoip provides MMDB-based IP geolocation.
//
// Supports multiple MMDB providers:
// - MaxMind GeoLite2 (requires license key from user)
// - DB-IP Lite (CC BY 4.0, redistributable)
// - IP2Location LITE (CC BY-SA 4.0, redistributable)
//
// Usage:
//
//	reader, err := geoip.NewReader("/path/to/database.mmdb")
//	if err != nil {
//	    // GeoIP disabled - handle gracefully
//	    return
//	}
//	defer reader.Close()
//
//	if geoData := reader.Lookup("203.0.113.7"); geoData != nil {
//	    fmt.Printf("%s at %.2f,%.2f\n", geoData.City, geoData.Latitude, geoData.Longitude)
//	}
package geoip

import (
	"errors"
	"io/fs"
	"math"
	"net"
	"path/filepath"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoData contains geolocation information for an IP address
type GeoData struct {
	CountryCode string  `json:"country_code,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Reader provides IP geolocation lookups using MMDB databases
type Reader struct {
	db              *geoip2.Reader
	provider        string
	attributionText string
}

// NewReader creates a new GeoIP reader from an MMDB file
//
// Returns nil, nil if the path is empty or the file doesn't exist (graceful degradation)
// Returns nil, error if the file exists but can't be opened
func NewReader(mmdbPath string) (*Reader, error) {
	if mmdbPath == "" {
		return nil, nil
	}

	db, err := geoip2.Open(mmdbPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file") {
			return nil, nil
		}
		return nil, err
	}

	provider, attributionText := detectProvider(mmdbPath)
	return &Reader{
		db:              db,
		provider:        provider,
		attributionText: attributionText,
	}, nil
}

// detectProvider attempts to identify the MMDB provider from filename
func detectProvider(mmdbPath string) (provider string, attributionText string) {
	filename := strings.ToLower(filepath.Base(mmdbPath))

	switch {
	case strings.Contains(filename, "geolite2") || strings.Contains(filename, "maxmind"):
		return "maxmind", "This product includes GeoLite2 data created by MaxMind, available from https://www.maxmind.com."
	case strings.Contains(filename, "dbip") || strings.Contains(filename, "db-ip"):
		return "dbip", "IP Geolocation by DB-IP (https://db-ip.com)"
	case strings.Contains(filename, "ip2location"):
		return "ip2location", "This site or product includes IP2Location LITE data available from https://lite.ip2location.com."
	default:
		return "unknown", ""
	}
}

// Lookup performs a geolocation lookup for the given IP address
//
// Returns nil if:
// - No database is loaded
// - IP is invalid
// - IP is a private/local address
// - IP is not found or the record has no usable coordinates
func (r *Reader) Lookup(ipStr string) *GeoData {
	if r == nil || r.db == nil {
		return nil
	}

	host, _, err := net.SplitHostPort(ipStr)
	if err != nil {
		host = ipStr
	}

	ip := net.ParseIP(host)
	if ip == nil || isPrivateIP(ip) {
		return nil
	}

	record, err := r.db.City(ip)
	if err != nil {
		return nil
	}
	if !IsValidLatLon(record.Location.Latitude, record.Location.Longitude) {
		return nil
	}

	return &GeoData{
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
	}
}

// isPrivateIP checks if an IP address is private/local
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return ip.IsPrivate()
}

// IsValidLatLon validates geographic coordinates.
// Rejects NaN, Inf, out-of-range, and 0,0 (the value MMDB records carry when
// the location is unknown).
func IsValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return !(lat == 0 && lon == 0)
}

// GetProvider returns the detected provider name
func (r *Reader) GetProvider() string {
	if r == nil {
		return "none"
	}
	return r.provider
}

// GetAttributionText returns the attribution text for this provider
func (r *Reader) GetAttributionText() string {
	if r == nil {
		return ""
	}
	return r.attributionText
}

// Close closes the underlying database
func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// IsLoaded returns true if a database is successfully loaded
func (r *Reader) IsLoaded() bool {
	return r != nil && r.db != nil
}
