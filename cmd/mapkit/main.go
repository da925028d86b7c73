// Package main is the entry point for the mapkit service.
// mapkit builds and maintains live map instances for the maps a host page
// publishes and serves their lifecycle over HTTP.
//
// Usage:
//
//	mapkit          run the service
//	mapkit token    print a bearer token for the mutating API routes
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eduard256/mapkit/internal/api/auth"
	"github.com/eduard256/mapkit/internal/api/server"
	"github.com/eduard256/mapkit/internal/config"
	"github.com/eduard256/mapkit/internal/frame"
	"github.com/eduard256/mapkit/internal/geolocate"
	"github.com/eduard256/mapkit/internal/host"
	"github.com/eduard256/mapkit/internal/loader"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/models"
	"github.com/eduard256/mapkit/internal/nominatim"
	"github.com/eduard256/mapkit/internal/orchestrator"
	"github.com/eduard256/mapkit/internal/provider"
	"github.com/eduard256/mapkit/internal/registry"
	"github.com/eduard256/mapkit/internal/retry"
	"github.com/eduard256/mapkit/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("MAPKIT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "mapkit",
	})

	if len(os.Args) > 1 && os.Args[1] == "token" {
		printToken(cfg, log)
		return
	}

	log.Info("starting mapkit service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Host page source
	src, fileSrc, closeSource := openSource(ctx, cfg, log)
	defer closeSource()
	page := host.NewPage(src)

	// Frame scheduler for deferred cluster evaluation
	loop := frame.NewLoop(cfg.FrameInterval)
	go loop.Start(ctx)

	geocoder := nominatim.NewClient(nominatim.Config{
		BaseURL:   cfg.NominatimURL,
		RateLimit: cfg.NominatimRateLimit,
	}, log, m)

	policy := retry.Policy{Interval: cfg.RetryInterval, MaxAttempts: cfg.RetryMaxAttempts}

	adapter, err := provider.New(provider.Config{
		Provider:        cfg.Provider,
		GoogleAPIKey:    cfg.GoogleAPIKey,
		AzureKey:        cfg.AzureKey,
		TileURL:         cfg.TileURL,
		TileAttribution: cfg.TileAttribution,
		TileCacheDir:    cfg.TileCacheDir,
		Geocoder:        geocoder,
	}, provider.Deps{
		Logger:    log,
		Metrics:   m,
		Scheduler: loop,
		Retry:     policy,
	})
	if err != nil {
		log.Fatalf("failed to create provider adapter: %v", err)
	}

	// The provider is page-wide, so the catalog always lists its assets.
	sdk := loader.New(
		loader.NewHTTPFetcher(cfg.LoaderTimeout),
		func(models.Provider) []loader.Asset { return adapter.Assets() },
		loader.WithTimeout(cfg.LoaderTimeout),
		loader.WithLogger(log),
		loader.WithMetrics(m),
	)

	var locator geolocate.Locator
	if cfg.GeolocationURL != "" {
		locator = geolocate.NewIPLocator(cfg.GeolocationURL, cfg.GeolocationTimeout, log, m)
	}

	reg := registry.New(adapter, page, log, m)
	defer reg.Close()

	orch := orchestrator.New(orchestrator.Config{
		Page:     page,
		Loader:   sdk,
		Adapter:  adapter,
		Registry: reg,
		Locator:  locator,
		Retry:    policy,
		Logger:   log,
		Metrics:  m,
	})

	// A file document is both the initial mount list and the change signal.
	if fileSrc != nil {
		go orch.HostChanged(ctx, fileSrc.IDs())

		watcher, err := host.NewWatcher(fileSrc, func(ids []string) {
			orch.HostChanged(ctx, ids)
		}, log)
		if err != nil {
			log.Fatalf("failed to watch host document: %v", err)
		}
		go watcher.Start(ctx)
		defer watcher.Stop()
	}

	var jwtAuth *auth.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth = auth.NewJWTAuth(cfg.JWTSecret, cfg.JWTExpiry)
	}

	var rateLimit *auth.RateLimiter
	if cfg.RateLimit > 0 {
		rateLimit = auth.NewRateLimiter(cfg.RateLimit, time.Minute)
	}

	apiServer := server.New(cfg.APIPort, cfg.ShutdownTimeout, server.NewRouter(&server.Dependencies{
		Orchestrator: orch,
		Geocoder:     geocoder,
		Metrics:      m,
		JWTAuth:      jwtAuth,
		RateLimit:    rateLimit,
		Logger:       log,
	}), log)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.WithFields(map[string]interface{}{
		"provider":    cfg.Provider,
		"host_source": cfg.HostSource,
		"api_port":    cfg.APIPort,
		"auth":        jwtAuth != nil,
		"geolocation": locator != nil,
	}).Info("mapkit service started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("received shutdown signal")

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("API server shutdown error")
	}

	cancel()
	loop.Stop()

	log.Info("mapkit service stopped")
}

// openSource opens the configured host source. The FileSource is also
// returned on its own when it backs the page, so it can be watched.
func openSource(ctx context.Context, cfg *config.Config, log *logger.Logger) (host.Source, *host.FileSource, func()) {
	switch cfg.HostSource {
	case config.SourceFile:
		src, err := host.NewFileSource(cfg.HostFile)
		if err != nil {
			log.Fatalf("failed to load host document: %v", err)
		}
		return src, src, func() {}

	case config.SourceRedis:
		src, err := host.NewRedisSource(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		return src, nil, func() {
			if err := src.Close(); err != nil {
				log.WithError(err).Warn("redis close error")
			}
		}

	default:
		return host.NewMemorySource(), nil, func() {}
	}
}

func printToken(cfg *config.Config, log *logger.Logger) {
	if !cfg.AuthEnabled() {
		log.Fatalf("MAPKIT_JWT_SECRET is not set")
	}

	subject := "host"
	if len(os.Args) > 2 {
		subject = os.Args[2]
	}

	token, expiresAt, err := auth.NewJWTAuth(cfg.JWTSecret, cfg.JWTExpiry).GenerateToken(subject)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
	log.WithField("expires_at", expiresAt).Info("token issued")
}
