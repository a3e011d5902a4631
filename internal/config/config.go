package config

import (
	"fmt"
	"strings"
	"time"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/geolookup"
	pkgconfig "frameworks/sextant/pkg/config"
)

type Config struct {
	Port               string
	RefreshInterval    time.Duration
	RefreshConcurrency int // zero uses the refresh job default
	Debug              bool
	ServiceToken       string

	LookupTimeout        time.Duration
	LookupNegativeTTL    time.Duration
	PrimaryProviderURL   string
	SecondaryProviderURL string
	MMDBPath             string

	Nodes           []balancer.Node
	NodeOverrides   map[string]geo.Location
	TargetOverrides map[string]geo.Location
}

func Load() (Config, error) {
	cfg := Config{
		Port:                 pkgconfig.GetEnv("PORT", "18019"),
		RefreshInterval:      pkgconfig.GetEnvDuration("SEXTANT_REFRESH_INTERVAL", 0),
		RefreshConcurrency:   pkgconfig.GetEnvInt("SEXTANT_REFRESH_CONCURRENCY", 0),
		Debug:                pkgconfig.GetEnvBool("SEXTANT_DEBUG", false),
		ServiceToken:         pkgconfig.GetEnv("SERVICE_TOKEN", ""),
		LookupTimeout:        pkgconfig.GetEnvDuration("SEXTANT_LOOKUP_TIMEOUT", geolookup.DefaultTimeout),
		LookupNegativeTTL:    pkgconfig.GetEnvDuration("SEXTANT_LOOKUP_NEGATIVE_TTL", geolookup.DefaultNegativeTTL),
		PrimaryProviderURL:   pkgconfig.GetEnv("SEXTANT_PRIMARY_PROVIDER_URL", geolookup.DefaultPrimaryURL),
		SecondaryProviderURL: pkgconfig.GetEnv("SEXTANT_SECONDARY_PROVIDER_URL", geolookup.DefaultSecondaryURL),
		MMDBPath:             pkgconfig.GetEnv("GEOIP_MMDB_PATH", ""),
	}

	var err error
	if cfg.Nodes, err = ParseNodes(pkgconfig.GetEnvList("SEXTANT_NODES")); err != nil {
		return Config{}, fmt.Errorf("SEXTANT_NODES: %w", err)
	}
	if cfg.NodeOverrides, err = ParseOverrides(pkgconfig.GetEnvList("SEXTANT_NODE_OVERRIDES")); err != nil {
		return Config{}, fmt.Errorf("SEXTANT_NODE_OVERRIDES: %w", err)
	}
	if cfg.TargetOverrides, err = ParseOverrides(pkgconfig.GetEnvList("SEXTANT_TARGET_OVERRIDES")); err != nil {
		return Config{}, fmt.Errorf("SEXTANT_TARGET_OVERRIDES: %w", err)
	}
	return cfg, nil
}

// ParseNodes reads "id=host" or bare "host" entries.
func ParseNodes(entries []string) ([]balancer.Node, error) {
	nodes := make([]balancer.Node, 0, len(entries))
	for _, e := range entries {
		var n balancer.Node
		if id, host, ok := strings.Cut(e, "="); ok {
			n = balancer.Node{ID: strings.TrimSpace(id), Host: strings.TrimSpace(host)}
		} else {
			n = balancer.Node{Host: strings.TrimSpace(e)}
		}
		if n.Host == "" {
			return nil, fmt.Errorf("entry %q has no host", e)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ParseOverrides reads "key=region" or "key=lat:lon" entries.
func ParseOverrides(entries []string) (map[string]geo.Location, error) {
	out := make(map[string]geo.Location, len(entries))
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("entry %q is not key=location", e)
		}
		loc, err := geo.ParseLocation(value)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e, err)
		}
		out[key] = loc
	}
	return out, nil
}
