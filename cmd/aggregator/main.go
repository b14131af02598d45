package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arequipa/aire-server/internal/aggregation"
	"github.com/arequipa/aire-server/internal/database"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/scheduler"
	"github.com/arequipa/aire-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init("aggregator", cfg.Log.Level)
	log := logger.WithComponent("main")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Alerts live wherever the alerting service writes them
	var purger aggregation.AlertPurger = db
	if cfg.Alerts.Store == config.StoreSQLite {
		store, err := database.OpenSQLite(cfg.Alerts.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Alerts.SQLitePath).Msg("failed to open SQLite store")
		}
		defer store.Close()
		purger = store
	}

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	runner, err := aggregation.NewRunner(
		sched,
		aggregation.NewHourlyAggregator(db),
		aggregation.NewDailyAggregator(db),
		aggregation.NewRetention(purger, cfg.Aggregation.RetentionDays),
		cfg.Aggregation,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid aggregation settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule aggregation")
	}

	metricsServer := metrics.NewServer("aggregator", cfg.Metrics.Addr)
	metricsServer.Start()

	log.Info().
		Dur("hourly_delay", cfg.Aggregation.HourlyDelay).
		Str("daily_time", cfg.Aggregation.DailyTime).
		Int("retention_days", cfg.Aggregation.RetentionDays).
		Msg("aggregation service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown failed")
	}
}
