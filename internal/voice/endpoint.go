// Package voice reads region hints out of voice-session traffic: the region
// encoded in a voice server hostname and the (target, endpoint) pair carried by
// voice server update events.
package voice

import (
	"net"
	"strings"
)

// RegionFromEndpoint extracts the region code from a voice endpoint of the
// form "hostname[:port]", e.g. "us-east123.discord.media:443" -> "us-east".
// The hostname needs at least three labels; the first label minus its
// trailing digits is the region.
func RegionFromEndpoint(endpoint string) (string, bool) {
	host := strings.TrimSpace(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return "", false
	}

	region := strings.TrimRight(labels[0], "0123456789")
	if region == "" {
		return "", false
	}
	return strings.ToLower(region), true
}
