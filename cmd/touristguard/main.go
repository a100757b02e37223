package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"touristguard/internal/alert"
	"touristguard/internal/cache"
	"touristguard/internal/config"
	"touristguard/internal/database"
	"touristguard/internal/domain"
	"touristguard/internal/engine"
	"touristguard/internal/handler"
	"touristguard/internal/hub"
	"touristguard/internal/ingestor"
	"touristguard/internal/metrics"
	"touristguard/internal/middleware"
	"touristguard/internal/repository"
	"touristguard/internal/store"
	"touristguard/internal/zone"
	"touristguard/pkg/locationfeed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting touristguard server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"zones_file", cfg.ZonesFile,
		"feed_enabled", cfg.FeedEnabled,
		"redis_enabled", cfg.RedisEnabled,
		"database_enabled", cfg.DatabaseEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			logger.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}

	zones := zone.NewRegistry(
		zone.WithTileZoom(cfg.TileZoomLevel),
		zone.WithMaxTilesPerZone(cfg.MaxZoneTiles),
	)
	if err := loadZones(ctx, cfg, zones, redisCache, logger); err != nil {
		logger.Error("failed to load zones", "error", err)
		os.Exit(1)
	}

	collector, err := metrics.New(nil)
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}
	collector.SetZoneCounts(map[domain.ZoneKind]int{
		domain.ZoneSafe:    zones.CountByKind(domain.ZoneSafe),
		domain.ZoneWarning: zones.CountByKind(domain.ZoneWarning),
		domain.ZoneDanger:  zones.CountByKind(domain.ZoneDanger),
	})

	alertStore := store.New(store.WithMaxAlerts(cfg.MaxAlerts))
	wsHub := hub.NewHub(cfg.TileZoomLevel, logger)
	alertStore.AddListener(wsHub)

	sinks := alert.Fanout{alertStore, wsHub}
	var asyncSinks []*alert.Async
	var checks []namedCheck

	if redisCache != nil {
		redisSink := cache.NewAlertSink(redisCache, cfg.CacheTTL, 100, logger)
		async := alert.NewAsync(redisSink, cfg.AlertBuffer, logger.With("sink", "redis")).
			OnDrop(collector.AlertDropped("redis"))
		// Resolutions share the publish queue so they land after the insert.
		alertStore.AddListener(async)
		asyncSinks = append(asyncSinks, async)
		sinks = append(sinks, async)
		checks = append(checks, namedCheck{"redis", redisCache.Ping})

		if cfg.CacheWarmOnStart {
			warmer := cache.NewZoneWarmer(redisCache, zones, cfg.CacheTTL, logger)
			if err := warmer.WarmAll(ctx); err != nil {
				logger.Warn("failed to warm zone cache", "error", err)
			}
			if cfg.CacheTTL > 0 {
				go warmer.ScheduleRefresh(ctx, cfg.CacheTTL/2)
			}
		}
	}

	if cfg.DatabaseEnabled {
		db, err := database.New(ctx, cfg.DatabaseURL, database.Options{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
			Debug:        cfg.BunDebug,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo := repository.NewAlertRepository(db)
		if err := repo.CreateSchema(ctx); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}

		open, err := repo.ListUnresolved(ctx, cfg.MaxAlerts)
		if err != nil {
			logger.Warn("failed to restore open alerts", "error", err)
		}
		for _, a := range open {
			alertStore.Publish(a)
		}
		logger.Info("restored open alerts", "count", len(open))

		archive := repository.NewArchive(repo, logger)
		async := alert.NewAsync(archive, cfg.AlertBuffer, logger.With("sink", "postgres")).
			OnDrop(collector.AlertDropped("postgres"))
		alertStore.AddListener(async)
		asyncSinks = append(asyncSinks, async)
		sinks = append(sinks, async)
		checks = append(checks, namedCheck{"postgres", db.PingContext})
	}

	eng, err := engine.New(zones, cfg.AlertConfig(), sinks,
		engine.WithRecorder(collector),
		engine.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger,
		middleware.WithTrustedProxies(cfg.TrustedProxies))
	tickDriver := ingestor.NewTickDriver(eng, alertStore, cfg.TickInterval, cfg.PruneInterval, cfg.AlertRetention, logger)

	var feedIng *ingestor.Ingestor
	if cfg.FeedEnabled {
		feedIng = ingestor.New(locationfeed.New(cfg.FeedURL, cfg.FeedAPIKey), eng, cfg.FeedPollInterval, logger)
	}

	healthHandler := handler.NewHealthHandler(eng)
	for _, c := range checks {
		healthHandler.AddCheck(c.name, c.check)
	}
	if feedIng != nil {
		healthHandler.AddCheck("feed", func(context.Context) error {
			if !feedIng.IsReady() {
				return errors.New("waiting for first successful poll")
			}
			return nil
		})
	}

	router := handler.NewRouter(handler.Handlers{
		HTTP:   handler.NewHTTPHandler(eng, alertStore, zones, logger),
		Zones:  handler.NewZoneHandler(zones, redisCache, logger),
		Stats:  handler.NewStatsHandler(eng, alertStore, zones, wsHub, cfg.TileZoomLevel),
		Health: healthHandler,
		WS:     handler.NewWSHandler(wsHub, alertStore, cfg.AllowedOrigins, logger),
	}, handler.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        collector,
		RateLimiter:    rateLimiter,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)
	go rateLimiter.Run(ctx)
	go tickDriver.Run(ctx)

	sinksDone := make(chan struct{})
	go func() {
		defer close(sinksDone)
		done := make(chan struct{}, len(asyncSinks))
		for _, s := range asyncSinks {
			go func() {
				s.Run(ctx)
				done <- struct{}{}
			}()
		}
		for range asyncSinks {
			<-done
		}
	}()

	if feedIng != nil {
		go feedIng.Run(ctx)
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop producers first so the async sinks drain everything queued.
	cancel()
	select {
	case <-sinksDone:
	case <-shutdownCtx.Done():
		logger.Warn("alert sinks did not drain before shutdown timeout")
	}

	logger.Info("shutdown complete")
}

type namedCheck struct {
	name  string
	check handler.Check
}

// loadZones fills the registry from ZONES_FILE, falling back to the snapshot
// another instance published to redis.
func loadZones(ctx context.Context, cfg *config.Config, zones *zone.Registry, redisCache *cache.RedisCache, logger *slog.Logger) error {
	if cfg.ZonesFile != "" {
		parsed, err := zone.LoadFile(cfg.ZonesFile)
		if err == nil {
			if err := zones.Load(parsed); err != nil {
				return err
			}
			logger.Info("zones loaded", "source", cfg.ZonesFile, "count", zones.Count())
			return nil
		}
		if redisCache == nil {
			return err
		}
		logger.Warn("zones file unavailable, trying redis snapshot", "error", err)
	}

	if redisCache != nil {
		loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		parsed, found, err := cache.LoadSnapshot(loadCtx, redisCache)
		if err != nil {
			return err
		}
		if found {
			if err := zones.Load(parsed); err != nil {
				return err
			}
			logger.Info("zones loaded", "source", "redis", "count", zones.Count())
			return nil
		}
	}

	logger.Warn("no zones configured, geofence rules are inactive")
	return nil
}
