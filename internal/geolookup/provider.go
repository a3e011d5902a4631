package geolookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"frameworks/sextant/internal/geo"
	"frameworks/sextant/pkg/geoip"
	"frameworks/sextant/pkg/version"
)

const (
	// DefaultPrimaryURL answers {"status":"success","lat":..,"lon":..}.
	DefaultPrimaryURL = "http://ip-api.com/json/"
	// DefaultSecondaryURL answers {"success":true,"latitude":..,"longitude":..}.
	DefaultSecondaryURL = "https://ipwho.is/"

	maxPayloadBytes = 64 << 10
)

var (
	// ErrProviderFailed marks a transport-level failure: a non-2xx status,
	// a timeout or a connection error.
	ErrProviderFailed = errors.New("geolocation provider failed")
	// ErrMalformedPayload marks a response that decoded but did not carry a
	// success flag and numeric coordinates.
	ErrMalformedPayload = errors.New("malformed geolocation payload")
	// ErrNoData marks a provider that answered but knows nothing about the host.
	ErrNoData = errors.New("no geolocation data")
	// ErrUnsupported marks a provider that cannot answer this kind of query.
	ErrUnsupported = errors.New("query not supported by provider")
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Provider string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrProviderFailed }

// Provider locates a host. An empty host asks for the caller's own location.
type Provider interface {
	Name() string
	Locate(ctx context.Context, host string) (geo.Coordinate, error)
}

// payloadParser validates a decoded JSON body field by field.
type payloadParser func(body map[string]interface{}) (geo.Coordinate, error)

// HTTPProvider queries a JSON geolocation endpoint at baseURL+host.
type HTTPProvider struct {
	name   string
	base   string
	query  string
	client *http.Client
	parse  payloadParser
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) url(host string) string {
	u := p.base
	if host != "" {
		u += url.PathEscape(host)
	}
	if p.query != "" {
		u += "?" + p.query
	}
	return u
}

func (p *HTTPProvider) Locate(ctx context.Context, host string) (geo.Coordinate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(host), nil)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.String())

	resp, err := p.client.Do(req)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%s: %w: %w", p.name, ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
		return geo.Coordinate{}, &StatusError{Provider: p.name, Code: resp.StatusCode}
	}

	var body map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayloadBytes)).Decode(&body); err != nil {
		return geo.Coordinate{}, fmt.Errorf("%s: %w: %v", p.name, ErrMalformedPayload, err)
	}
	c, err := p.parse(body)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%s: %w", p.name, err)
	}
	return c, nil
}

// NewIPAPIProvider builds the primary provider. An empty baseURL uses DefaultPrimaryURL.
func NewIPAPIProvider(baseURL string, client *http.Client) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultPrimaryURL
	}
	return &HTTPProvider{
		name:   "ip-api",
		base:   withTrailingSlash(baseURL),
		query:  "fields=status,message,lat,lon",
		client: client,
		parse: func(body map[string]interface{}) (geo.Coordinate, error) {
			if status, _ := body["status"].(string); status != "success" {
				return geo.Coordinate{}, fmt.Errorf("%w: status %q", ErrMalformedPayload, status)
			}
			return numericPair(body, "lat", "lon")
		},
	}
}

// NewIPWhoisProvider builds the secondary provider. An empty baseURL uses DefaultSecondaryURL.
func NewIPWhoisProvider(baseURL string, client *http.Client) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultSecondaryURL
	}
	return &HTTPProvider{
		name:   "ipwhois",
		base:   withTrailingSlash(baseURL),
		client: client,
		parse: func(body map[string]interface{}) (geo.Coordinate, error) {
			if ok, _ := body["success"].(bool); !ok {
				return geo.Coordinate{}, fmt.Errorf("%w: success flag not set", ErrMalformedPayload)
			}
			return numericPair(body, "latitude", "longitude")
		},
	}
}

func numericPair(body map[string]interface{}, latKey, lonKey string) (geo.Coordinate, error) {
	lat, ok := body[latKey].(float64)
	if !ok {
		return geo.Coordinate{}, fmt.Errorf("%w: %s missing or not a number", ErrMalformedPayload, latKey)
	}
	lon, ok := body[lonKey].(float64)
	if !ok {
		return geo.Coordinate{}, fmt.Errorf("%w: %s missing or not a number", ErrMalformedPayload, lonKey)
	}
	return geo.Coordinate{Lat: lat, Lon: lon}, nil
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// MMDBProvider answers from a local GeoIP database. Hostnames are resolved to
// their first public address; self lookups are unsupported.
type MMDBProvider struct {
	reader   *geoip.Reader
	resolver *net.Resolver
}

func NewMMDBProvider(reader *geoip.Reader) *MMDBProvider {
	return &MMDBProvider{reader: reader, resolver: net.DefaultResolver}
}

func (p *MMDBProvider) Name() string { return "mmdb-" + p.reader.GetProvider() }

func (p *MMDBProvider) Locate(ctx context.Context, host string) (geo.Coordinate, error) {
	if host == "" {
		return geo.Coordinate{}, ErrUnsupported
	}

	ips := []string{host}
	if net.ParseIP(host) == nil {
		addrs, err := p.resolver.LookupHost(ctx, host)
		if err != nil {
			return geo.Coordinate{}, fmt.Errorf("%s: resolve %s: %w", p.Name(), host, err)
		}
		ips = addrs
	}

	for _, ip := range ips {
		if data := p.reader.Lookup(ip); data != nil {
			return geo.Coordinate{Lat: data.Latitude, Lon: data.Longitude}, nil
		}
	}
	return geo.Coordinate{}, fmt.Errorf("%s: %w for %s", p.Name(), ErrNoData, host)
}
