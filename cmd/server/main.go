package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThePloy1990/portfolio-assistant/internal/config"
	"github.com/ThePloy1990/portfolio-assistant/internal/database"
	"github.com/ThePloy1990/portfolio-assistant/internal/history"
	"github.com/ThePloy1990/portfolio-assistant/internal/optimization"
	"github.com/ThePloy1990/portfolio-assistant/internal/scenario"
	"github.com/ThePloy1990/portfolio-assistant/internal/scheduler"
	"github.com/ThePloy1990/portfolio-assistant/internal/server"
	"github.com/ThePloy1990/portfolio-assistant/internal/snapshot"
	"github.com/ThePloy1990/portfolio-assistant/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting portfolio assistant")

	ctx := context.Background()

	// Snapshot store: Redis cache plus a durable backend (S3 when a bucket
	// is configured, local filesystem otherwise).
	cache, err := snapshot.NewRedisCache(ctx, snapshot.RedisCacheConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to snapshot cache")
	}
	defer cache.Close()

	var durable snapshot.Backend
	if cfg.S3.Bucket != "" {
		s3Store, err := snapshot.NewS3Store(ctx, cfg.S3.Bucket, cfg.S3.Region)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 snapshot backend")
		}
		durable = s3Store
	} else {
		fileStore, err := snapshot.NewFileStore(cfg.SnapshotDir())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize filesystem snapshot backend")
		}
		durable = fileStore
	}

	store := snapshot.NewStore(cache, durable, log)
	registry := snapshot.NewRegistry(store, log)
	deriver := scenario.NewDeriver(registry, log)

	// Price history for the HRP strategy.
	pricesDB, err := database.New(database.Config{Path: cfg.History.DBPath, Name: "prices"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open prices database")
	}
	defer pricesDB.Close()

	historyProvider := history.NewSQLiteProvider(pricesDB, log)
	if err := historyProvider.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure prices schema")
	}

	engine := optimization.NewEngine(optimization.Config{
		Registry:       registry,
		History:        historyProvider,
		HistoryTimeout: cfg.History.Timeout,
		Log:            log,
	})

	// Background cache reconciliation.
	sched := scheduler.New(log)
	reconcile := snapshot.NewReconcileJob(store, 2*time.Minute, log)
	if err := sched.AddJob(cfg.ReconcileSchedule, reconcile); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reconciliation job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Handlers: server.NewHandlers(registry, deriver, engine, log),
		System: server.NewSystemHandlers(map[string]server.Pinger{
			"cache":   cache,
			"durable": durable,
			"prices":  historyProvider,
		}, log),
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
