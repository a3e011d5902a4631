package main

import (
	"context"

	"frameworks/sextant/internal/config"
	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/geolookup"
	"frameworks/sextant/internal/handlers"
	"frameworks/sextant/internal/placement"
	"frameworks/sextant/internal/registry"
	"frameworks/sextant/internal/resolver"
	"frameworks/sextant/pkg/clients"
	pkgconfig "frameworks/sextant/pkg/config"
	"frameworks/sextant/pkg/geoip"
	"frameworks/sextant/pkg/logging"
	"frameworks/sextant/pkg/middleware"
	"frameworks/sextant/pkg/monitoring"
	"frameworks/sextant/pkg/server"
	"frameworks/sextant/pkg/version"
)

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService(version.Component)

	// Load environment variables
	pkgconfig.LoadEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.Debug {
		logger.SetLevel(logging.DebugLevel)
	}

	logger.WithFields(logging.Fields{
		"version":    version.Version,
		"commit":     version.GetShortCommit(),
		"build_date": version.BuildDate,
		"regions":    geo.Regions(),
	}).Info("Starting Sextant placement service")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker(version.Component, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(version.Component, version.Version, version.GitCommit)
	metrics := placement.NewMetrics(metricsCollector)

	// Optional local GeoIP database ahead of the HTTP providers
	geoipReader, err := geoip.NewReader(cfg.MMDBPath)
	if err != nil {
		logger.WithError(err).Warn("GeoIP database unavailable, using HTTP providers only")
	}
	if geoipReader != nil {
		defer geoipReader.Close()
		logger.WithFields(logging.Fields{
			"provider":    geoipReader.GetProvider(),
			"attribution": geoipReader.GetAttributionText(),
		}).Info("Loaded GeoIP database")
	}

	breakerMetrics := &clients.BreakerMetrics{}
	breakerMetrics.State, breakerMetrics.Transitions = metricsCollector.CreateCircuitBreakerMetrics()
	breaker := clients.DefaultCircuitBreakerConfig()
	breaker.OnStateChange = breakerMetrics.OnStateChange
	lookup := geolookup.New(geolookup.Config{
		Providers:   buildProviders(cfg, geoipReader),
		Timeout:     cfg.LookupTimeout,
		NegativeTTL: cfg.LookupNegativeTTL,
		Breaker:     &breaker,
		Logger:      logger,
		Debug:       cfg.Debug,
		Metrics:     &geolookup.Metrics{ProviderAttempts: metrics.ProviderAttempts, LookupCache: metrics.LookupCache},
	})

	breakerMetrics.Seed(lookup.Breakers()...)

	overrides := resolver.NewOverrides()
	for key, loc := range cfg.NodeOverrides {
		overrides.SetNode(key, loc)
	}
	for key, loc := range cfg.TargetOverrides {
		overrides.SetTarget(key, loc)
	}

	reg := registry.New(logger)
	for _, n := range cfg.Nodes {
		if err := reg.Add(n); err != nil {
			logger.WithError(err).Fatal("Invalid node in SEXTANT_NODES")
		}
	}

	engine := placement.New(placement.Config{
		Locator:            lookup,
		Overrides:          overrides,
		RefreshInterval:    cfg.RefreshInterval,
		RefreshConcurrency: cfg.RefreshConcurrency,
		Debug:              cfg.Debug,
		Logger:             logger,
		Metrics:            metrics,
	})
	placement.RegisterCacheGauges(metricsCollector, engine.Cache())

	host, err := engine.Start(reg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start placement engine")
	}
	defer func() { _ = engine.Stop() }()

	// Add health checks
	healthChecker.AddCheck("geo_cache", monitoring.GeoCacheHealthCheck(
		func() int { n, _, _ := engine.Cache().Sizes(); return n },
		func() int { return len(reg.Nodes()) },
	))
	healthChecker.AddCheck("geo_providers", monitoring.CircuitBreakerHealthCheck(lookup.Breakers()...))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, version.Component, healthChecker, metricsCollector)
	handlers.New(handlers.Config{
		Engine:    engine,
		Host:      host,
		Registry:  reg,
		Overrides: overrides,
		Logger:    logger,
	}).Register(router, middleware.ServiceAuthMiddleware(cfg.ServiceToken))

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig(version.Component, "18019")
	serverConfig.Port = cfg.Port
	if err := server.Start(context.Background(), serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}
}

// buildProviders orders the lookup chain: local database first when loaded,
// then the primary and secondary HTTP providers.
func buildProviders(cfg config.Config, reader *geoip.Reader) []geolookup.Provider {
	httpClient := clients.NewHTTPClient()
	var providers []geolookup.Provider
	if reader != nil && reader.IsLoaded() {
		providers = append(providers, geolookup.NewMMDBProvider(reader))
	}
	return append(providers,
		geolookup.NewIPAPIProvider(cfg.PrimaryProviderURL, httpClient),
		geolookup.NewIPWhoisProvider(cfg.SecondaryProviderURL, httpClient),
	)
}
