package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	logger.Init("dbwriter", cfg.Log.Level)
	log := logger.WithComponent("main")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicMeasurements, cfg.Kafka.WriterGroup)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := queue.NewBatchWriter(consumer, db, consumer.Topic(), cfg.Kafka.WriterBatchSize, cfg.Kafka.WriterFlush)
	writer.Start(ctx)

	metricsServer := metrics.NewServer("dbwriter", cfg.Metrics.Addr)
	metricsServer.Start()

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := consumer.Stats()
				log.Info().
					Int64("messages", stats.Messages).
					Int64("bytes", stats.Bytes).
					Int64("errors", stats.Errors).
					Int64("lag", stats.Lag).
					Msg("consumer statistics")
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().
		Str("topic", cfg.Kafka.TopicMeasurements).
		Int("batch_size", cfg.Kafka.WriterBatchSize).
		Dur("flush_interval", cfg.Kafka.WriterFlush).
		Msg("measurement writer running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	writer.Stop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown failed")
	}
}
