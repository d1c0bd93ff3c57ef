package main

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medical-deserts/apl-dashboard/internal/config"
	"github.com/medical-deserts/apl-dashboard/internal/fetcher"
	"github.com/medical-deserts/apl-dashboard/internal/geodata"
	"github.com/medical-deserts/apl-dashboard/internal/indicator"
	"github.com/medical-deserts/apl-dashboard/internal/resilience"
)

// appEnv holds the dependencies shared by every command.
type appEnv struct {
	Loader  *geodata.Loader
	Catalog *indicator.Catalog
}

// initApp builds the fetcher, dataset cache, loader and indicator catalog
// from configuration.
func initApp(c *config.Config) (*appEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	target := geodata.CRS(c.Dataset.TargetEPSG)
	if !target.Supported() {
		return nil, eris.Errorf("config: unsupported dataset.target_epsg %d", c.Dataset.TargetEPSG)
	}

	catalog, err := indicator.LoadCatalog(c.Indicators.CatalogPath)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(c.Dataset.TimeoutSecs) * time.Second
	f := fetcher.NewMulti(
		fetcher.HTTPOptions{
			UserAgent:  c.Dataset.UserAgent,
			Timeout:    timeout,
			MaxRetries: c.Dataset.MaxRetries,
		},
		fetcher.FTPOptions{Timeout: timeout},
	)

	ttl := time.Duration(c.Dataset.CacheTTLMins) * time.Minute
	cache := geodata.NewDatasetCache(geodata.DefaultCacheEntries, ttl)
	opts := geodata.LoaderOptions{
		Target:      target,
		TempDir:     c.Dataset.TempDir,
		LoadTimeout: time.Duration(c.Dataset.LoadTimeoutSecs) * time.Second,
	}
	if c.Dataset.BreakerThreshold > 0 {
		opts.Breakers = resilience.NewBreakers(resilience.Options{
			Threshold: c.Dataset.BreakerThreshold,
			Cooldown:  time.Duration(c.Dataset.BreakerCooldownSecs) * time.Second,
		})
	}
	loader := geodata.NewLoader(f, cache, opts)

	zap.L().Debug("app initialized",
		zap.String("dataset", c.Dataset.URL),
		zap.Stringer("crs", target),
		zap.Duration("cache_ttl", ttl),
		zap.Bool("breaker", opts.Breakers != nil),
		zap.Int("variants", len(catalog.Variants)),
	)

	return &appEnv{Loader: loader, Catalog: catalog}, nil
}
