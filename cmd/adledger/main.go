package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/adforge/adledger/internal/config"
	"github.com/adforge/adledger/internal/database"
	"github.com/adforge/adledger/internal/httpserver"
	"github.com/adforge/adledger/internal/ledger"
	"github.com/adforge/adledger/internal/metrics"
	"github.com/adforge/adledger/internal/middleware"
	"github.com/adforge/adledger/internal/notify"
	"github.com/adforge/adledger/internal/reporting"
	"github.com/adforge/adledger/internal/scheduler"
	"github.com/adforge/adledger/internal/storage"
	"github.com/adforge/adledger/internal/targeting"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting adledger",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics("adledger")

	// Postgres is the authoritative store.
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	campaignRepo := storage.NewPostgresCampaignRepo(db.Pool)
	adRepo := storage.NewPostgresAdRepo(db.Pool)
	impressionRepo := storage.NewPostgresImpressionRepo(db.Pool)
	advertiserRepo := storage.NewPostgresAdvertiserRepo(db.Pool)

	var archive storage.ImpressionArchive = storage.NopArchive{}
	if cfg.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseArchive(ctx,
			cfg.ClickHouse.Addr, cfg.ClickHouse.Database,
			cfg.ClickHouse.User, cfg.ClickHouse.Password, logger)
		if err != nil {
			logger.Warn("clickhouse unavailable, archiving disabled", zap.Error(err))
		} else {
			archive = ch
			defer ch.Close()
		}
	}

	var geo targeting.GeoProvider
	if cfg.Geo.Enabled {
		provider, err := targeting.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("geo database unavailable, country resolution disabled", zap.Error(err))
		} else {
			geo = provider
			defer provider.Close()
		}
	}
	resolver := targeting.NewContextResolver(geo, cfg.Geo.CacheSize, cfg.Geo.CacheTTL)

	sink := notify.NewLogSink(logger.Named("alerts"))

	engine := ledger.NewEngine(ledger.Config{
		Campaigns:   campaignRepo,
		Ads:         adRepo,
		Impressions: impressionRepo,
		Advertisers: advertiserRepo,
		Archive:     archive,
		Resolver:    resolver,
		Stats:       ledger.NewStatCounters(rdb.Client),
		Metrics:     m,
		Sink:        sink,
		Logger:      logger.Named("ledger"),
	})

	aggregator := reporting.NewAggregator(
		campaignRepo, adRepo, impressionRepo, advertiserRepo,
		rdb.Client, cfg.Reporting.CacheTTL, logger.Named("reporting"))

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			Campaigns:    campaignRepo,
			Ads:          adRepo,
			Advertisers:  advertiserRepo,
			Aggregator:   aggregator,
			ArchiveAfter: cfg.Scheduler.ArchiveAfter,
			Metrics:      m,
			Sink:         sink,
			Logger:       logger.Named("scheduler"),
		})
		go sched.Run(ctx, cfg.Scheduler.SweepInterval, cfg.Scheduler.RecomputeInterval)
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Engine:      engine,
		Aggregator:  aggregator,
		Campaigns:   campaignRepo,
		Ads:         adRepo,
		Advertisers: advertiserRepo,
		Config:      cfg,
		Logger:      logger.Named("http"),
		Metrics:     m,
	})

	rateLimit := middleware.NewRateLimitMiddleware(
		cfg.RateLimit.Enabled,
		cfg.RateLimit.ServeRPS, cfg.RateLimit.ServeBurst,
		cfg.RateLimit.MgmtRPS, cfg.RateLimit.MgmtBurst,
		logger)
	logging := middleware.NewLoggingMiddleware(logger)
	recovery := middleware.NewRecoveryMiddleware(logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      recovery.Handler(logging.Handler(rateLimit.Handler(handler))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	logger.Info("stopped")
	_ = os.Stdout.Sync()
}
