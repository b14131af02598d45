package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/arequipa/aire-server/internal/alarming"
	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/database"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/queue"
	"github.com/arequipa/aire-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init("alerting", cfg.Log.Level)
	log := logger.WithComponent("main")

	store, thresholds, closer := openStores(cfg, log)
	defer closer.Close()

	cachedThresholds := alarming.NewCachedThresholds(thresholds, cfg.Alerts.ThresholdCacheTTL)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var cache *alarming.RecentAlertCache
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, deduplicating against the store only")
	} else {
		cache = alarming.NewRecentAlertCache(redisClient, cfg.Alerts.DedupWindow)
	}
	cancelPing()

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.NumPartitions, 1); err != nil {
		log.Warn().Err(err).Str("topic", cfg.Kafka.TopicAlerts).Msg("topic creation failed")
	}
	producer := queue.NewProducerFromConfig(cfg.Kafka, cfg.Kafka.TopicAlerts)
	defer producer.Close()

	evaluator := alarming.NewEvaluator(
		alerts.NewEngine(cfg.Alerts.DedupWindow),
		cachedThresholds,
		store,
		cache,
		producer,
	)

	source := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicMeasurements, cfg.Kafka.AlertingGroup)
	defer source.Close()
	consumer := alarming.NewConsumer(source, evaluator, source.Topic())

	metricsServer := metrics.NewServer("alerting", cfg.Metrics.Addr)
	metricsServer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("consumer stopped")
		}
	}()

	log.Info().
		Str("store", cfg.Alerts.Store).
		Dur("dedup_window", cfg.Alerts.DedupWindow).
		Bool("redis_cache", cache != nil).
		Msg("alerting service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown failed")
	}
}

// openStores selects the alert store and the threshold source
func openStores(cfg *config.Config, log zerolog.Logger) (alarming.AlertStore, alarming.ThresholdSource, io.Closer) {
	var fileThresholds alarming.ThresholdSource
	if cfg.Alerts.ThresholdsFile != "" {
		ft, err := alarming.LoadThresholdFile(cfg.Alerts.ThresholdsFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Alerts.ThresholdsFile).Msg("failed to load thresholds")
		}
		fileThresholds = ft
		log.Info().Str("file", cfg.Alerts.ThresholdsFile).Msg("thresholds loaded from file")
	}

	if cfg.Alerts.Store == config.StoreSQLite {
		if fileThresholds == nil {
			log.Fatal().Msg("ALERT_THRESHOLDS_FILE is required when ALERT_STORE=sqlite")
		}
		store, err := database.OpenSQLite(cfg.Alerts.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Alerts.SQLitePath).Msg("failed to open SQLite store")
		}
		return store, fileThresholds, store
	}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	if fileThresholds != nil {
		return db, fileThresholds, db
	}
	return db, db, db
}
