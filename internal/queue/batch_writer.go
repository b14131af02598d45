package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/arequipa/aire-server/internal/aqi"
	"github.com/arequipa/aire-server/internal/database"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/protocol"
)

// MessageSource is a committing Kafka reader
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// MeasurementStore is the persistence used by the batch writer
type MeasurementStore interface {
	GetStation(ctx context.Context, id int64) (*database.Station, error)
	UpsertStation(ctx context.Context, st *database.Station) error
	InsertMeasurement(ctx context.Context, m *database.Measurement) error
}

// BatchWriter consumes station measurements from Kafka, computes their
// AQI and batch-writes them to the database
type BatchWriter struct {
	source        MessageSource
	store         MeasurementStore
	topic         string
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger

	// station id -> last stored name
	stations map[int64]string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, store MeasurementStore, topic string, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BatchWriter{
		source:        source,
		store:         store,
		topic:         topic,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           logger.WithComponent("batch-writer"),
		stations:      make(map[int64]string),
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the database
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes the pending batch and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgCh := make(chan kafka.Message, bw.batchSize)
	go bw.consume(consumeCtx, msgCh)

	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	var (
		batch []kafka.Message
		// set while the head of batch failed to store; it is retried on
		// the next tick before anything new is taken in
		retrying bool
	)
	for {
		in := msgCh
		if retrying {
			in = nil
		}

		select {
		case <-bw.stopCh:
			cancel()
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ctx.Done():
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.log.Debug().Int("size", len(batch)).Msg("flush interval reached")
				batch = bw.flush(ctx, batch)
				retrying = len(batch) > 0
			}

		case msg := <-in:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				batch = bw.flush(ctx, batch)
				retrying = len(batch) > 0
			}
		}
	}
}

func (bw *BatchWriter) consume(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := bw.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.log.Error().Err(err).Msg("failed to consume message")
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush stores and commits the batch in order. Commits are cumulative per
// partition, so it stops at the first store failure and returns the
// messages from that one on for a later retry.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()

	var (
		stored  int
		pending []kafka.Message
	)
	for i, msg := range batch {
		err := bw.processMessage(ctx, msg)
		switch {
		case errors.Is(err, protocol.ErrInvalidMessage):
			// Redelivery cannot fix a malformed message
			metrics.KafkaConsumeTotal.WithLabelValues(bw.topic, "dropped").Inc()
			bw.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping invalid measurement")
		case err != nil:
			metrics.KafkaConsumeTotal.WithLabelValues(bw.topic, "failed").Inc()
			metrics.MeasurementsWrittenTotal.WithLabelValues("failed").Inc()
			bw.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to store measurement")
			pending = batch[i:]
		default:
			stored++
			metrics.KafkaConsumeTotal.WithLabelValues(bw.topic, "handled").Inc()
			metrics.MeasurementsWrittenTotal.WithLabelValues("success").Inc()
		}
		if pending != nil {
			break
		}

		if err := bw.source.Commit(ctx, msg); err != nil {
			bw.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}

	duration := time.Since(start)
	metrics.BatchFlushDuration.Observe(duration.Seconds())
	bw.log.Info().
		Int("batch", len(batch)).
		Int("stored", stored).
		Int("pending", len(pending)).
		Dur("duration", duration).
		Msg("flushed measurement batch")
	return pending
}

func (bw *BatchWriter) processMessage(ctx context.Context, msg kafka.Message) error {
	sm, err := protocol.DecodeStationMeasurement(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidMessage, err)
	}

	m, err := BuildMeasurement(sm)
	if err != nil {
		return err
	}

	if err := bw.ensureStation(ctx, sm); err != nil {
		return err
	}

	if err := bw.store.InsertMeasurement(ctx, m); err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

// ensureStation makes sure the station row exists with its current name
func (bw *BatchWriter) ensureStation(ctx context.Context, sm *protocol.StationMeasurement) error {
	name, seen := bw.stations[sm.StationID]
	if seen && name == sm.StationName {
		return nil
	}

	if !seen {
		existing, err := bw.store.GetStation(ctx, sm.StationID)
		if err != nil {
			return fmt.Errorf("failed to get station: %w", err)
		}
		if existing != nil && existing.Name == sm.StationName {
			bw.stations[sm.StationID] = existing.Name
			return nil
		}
	}

	st := &database.Station{
		ID:     sm.StationID,
		Name:   sm.StationName,
		Lat:    sm.Latitude,
		Lon:    sm.Longitude,
		Active: true,
	}
	if sm.District != "" {
		district := sm.District
		st.District = &district
	}

	if err := bw.store.UpsertStation(ctx, st); err != nil {
		return fmt.Errorf("failed to upsert station: %w", err)
	}
	bw.stations[sm.StationID] = sm.StationName
	return nil
}

// BuildMeasurement converts a station measurement into a database row
// with its AQI. AQI fields stay nil when no scored pollutant was measured.
func BuildMeasurement(sm *protocol.StationMeasurement) (*database.Measurement, error) {
	parsed, err := sm.Data.Parse()
	if err != nil {
		return nil, err
	}

	m := &database.Measurement{
		StationID:     sm.StationID,
		MeasuredAt:    parsed.MeasuredAt,
		PM25:          parsed.PM25,
		PM10:          parsed.PM10,
		NO2:           parsed.NO2,
		O3:            parsed.O3,
		CO:            parsed.CO,
		SO2:           parsed.SO2,
		Temperature:   parsed.Temperature,
		Humidity:      parsed.Humidity,
		Pressure:      parsed.Pressure,
		WindSpeed:     parsed.WindSpeed,
		WindDirection: parsed.WindDirection,
		Reliability:   parsed.Reliability,
		ReceivedAt:    sm.ReceivedAt,
	}
	if parsed.Source != "" {
		source := parsed.Source
		m.Source = &source
	}

	result, err := aqi.Compute(parsed.Readings())
	if errors.Is(err, aqi.ErrNoData) {
		metrics.AQINoDataTotal.Inc()
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidMessage, err)
	}

	index := result.Index
	label := result.Category.Label()
	color := result.Color
	dominant := string(result.Dominant)
	m.AQI = &index
	m.AQICategory = &label
	m.AQIColor = &color
	m.DominantPollutant = &dominant

	metrics.AQIIndex.Observe(float64(index))
	metrics.AQICategoryTotal.WithLabelValues(result.Category.String()).Inc()
	return m, nil
}
