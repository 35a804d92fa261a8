package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/cfg"
	"sokoyetu-ai/internal/metrics"
	"sokoyetu-ai/internal/ml"
	"sokoyetu-ai/internal/server"
	"sokoyetu-ai/internal/service"
	"sokoyetu-ai/internal/storage"
	"sokoyetu-ai/internal/tracking"
)

// dataLayer is the relational side of the service: history reads, insight
// writes and category lookups.
type dataLayer interface {
	service.HistoryProvider
	service.InsightWriter
	service.CategoryLookup
}

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	zerolog.SetGlobalLevel(c.Level())

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("storage initialization failed")
	}
	defer store.Close()

	data, closer := initializeDataLayer(ctx, c, store)
	if closer != nil {
		defer closer.Close()
	}

	runs, localRuns := initializeRunStore(c, store)
	tracker := tracking.New(runs, tracking.Config{Experiment: c.ExperimentName, Metrics: mw})

	feed := server.NewFeed(mw)
	feed.Start()
	tracker.AddObserver(feed)

	svcCfg := serviceConfig(c)
	registry, err := ml.NewRegistry(ml.Config{
		ArtifactRoot: c.ModelDir,
		Specs:        service.ModelSpecs(svcCfg),
		Metrics:      mw,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("model registry initialization failed")
	}
	if err := registry.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("model warm-up failed, models will load on first use")
	}
	for _, name := range registry.Names() {
		if info, err := registry.Info(name); err == nil && info.Degraded {
			log.Warn().Str("model", name).Str("artifact", info.ArtifactPath).Msg("Serving untrained default model")
		}
	}

	svc, err := service.New(svcCfg, service.Deps{
		Models:     registry,
		Tracker:    tracker,
		History:    data,
		Insights:   data,
		Categories: data,
		Metrics:    mw,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}

	srv := server.New(server.Config{
		Addr:      c.ListenAddr,
		RateLimit: c.RateLimit,
		RateBurst: c.RateBurst,
		Gatherer:  prometheus.DefaultGatherer,
		Runs:      localRuns,
	}, svc, registry, feed)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("prediction server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, srv, svc)
}

// initializeDataLayer uses Postgres when DATABASE_URL is set and the
// embedded store otherwise.
func initializeDataLayer(ctx context.Context, c cfg.Settings, store *storage.Store) (dataLayer, io.Closer) {
	if c.DatabaseURL == "" {
		return store, nil
	}
	pg, err := storage.OpenPostgres(ctx, c.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres initialization failed")
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres schema check failed")
	}
	log.Info().Msg("Using postgres data layer")
	return pg, pg
}

// initializeRunStore returns the tracker's store and, when runs are kept
// locally, the store to expose over the tracking API.
func initializeRunStore(c cfg.Settings, store *storage.Store) (tracking.Store, tracking.Store) {
	if c.TrackingURI != "" {
		log.Info().Str("uri", c.TrackingURI).Msg("Using remote tracking server")
		return tracking.NewRESTStore(c.TrackingURI, c.TrackingTimeout), nil
	}
	return store, store
}

func serviceConfig(c cfg.Settings) service.Config {
	sc := service.DefaultConfig()
	sc.InferenceTimeout = c.InferenceTimeout
	sc.CropImageSize = c.CropImageSize
	sc.GradeImageSize = c.GradeImageSize
	sc.YieldHistoryYears = c.YieldHistoryYears
	sc.TrustedDomains = c.TrustedDomains
	sc.ValidUnits = c.ValidUnits
	sc.ValidCountries = c.ValidCountries
	return sc
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, srv *server.Server, svc *service.Service) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("prediction logs not flushed before exit")
	}
	log.Info().Msg("server stopped")
}
