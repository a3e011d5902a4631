package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns a configured HTTP transport with connection limits.
// Geolocation providers are queried in bursts when a cold node pool is first
// seen, so per-host connections are capped.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     32,
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewHTTPClient builds a client on DefaultTransport. Per-request deadlines come
// from the caller's context, so the client itself carries no overall timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: DefaultTransport()}
}
