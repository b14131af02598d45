package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arequipa/aire-server/internal/connection"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/queue"
	"github.com/arequipa/aire-server/internal/scheduler"
	"github.com/arequipa/aire-server/internal/server"
	"github.com/arequipa/aire-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init("ingest", cfg.Log.Level)
	log := logger.WithComponent("main")

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicMeasurements, cfg.Kafka.NumPartitions, 1); err != nil {
		log.Warn().Err(err).Str("topic", cfg.Kafka.TopicMeasurements).Msg("topic creation failed")
	}

	producer := queue.NewProducerFromConfig(cfg.Kafka, cfg.Kafka.TopicMeasurements)
	defer producer.Close()

	sessions := connection.NewManager(cfg.TCPServer.MaxConnections)

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	tcpServer := server.NewTCPServer(cfg.TCPServer, sessions, sched, producer)
	if err := tcpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start TCP server")
	}
	defer tcpServer.Stop()

	metricsServer := metrics.NewServer("ingest", cfg.Metrics.Addr)
	metricsServer.Start()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := sessions.Stats()
			timers := sched.Stats()
			log.Info().
				Int("sessions", stats.Sessions).
				Int("stations", stats.Stations).
				Int("max_connections", stats.MaxConnections).
				Int("pending_timers", timers.Pending).
				Msg("ingest statistics")
		}
	}()

	log.Info().
		Int("port", cfg.TCPServer.Port).
		Str("topic", cfg.Kafka.TopicMeasurements).
		Msg("ingest service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown failed")
	}
}
