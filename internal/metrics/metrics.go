package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	StationConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aire_ingest_station_connections",
			Help: "Number of connected monitoring stations",
		},
	)

	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_ingest_messages_total",
			Help: "Total number of station messages received",
		},
		[]string{"type", "status"}, // status: accepted, rejected
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"}, // status: success, failed
	)

	KafkaConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_kafka_consume_total",
			Help: "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"}, // status: handled, dropped, failed
	)

	// Measurement writer metrics
	MeasurementsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_measurements_written_total",
			Help: "Total number of measurements stored",
		},
		[]string{"status"}, // status: success, failed
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aire_batch_flush_duration_seconds",
			Help:    "Time taken to flush a measurement batch",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// AQI metrics
	AQIIndex = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aire_aqi_index",
			Help:    "Distribution of computed AQI values",
			Buckets: []float64{25, 50, 75, 100, 150, 200, 300, 400, 500},
		},
	)

	AQICategoryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_aqi_category_total",
			Help: "Total number of computed AQI values per category",
		},
		[]string{"category"},
	)

	AQINoDataTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aire_aqi_no_data_total",
			Help: "Total number of measurements without any scored pollutant",
		},
	)

	// Alert metrics
	AlertEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_alert_evaluations_total",
			Help: "Total number of threshold evaluations",
		},
		[]string{"outcome"}, // outcome: no_breach, created, suppressed, error
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity", "pollutant"},
	)

	DedupCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_dedup_cache_total",
			Help: "Dedup cache lookups",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	// Aggregation metrics
	AggregationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_aggregation_runs_total",
			Help: "Total number of aggregation runs",
		},
		[]string{"kind", "status"},
	)

	AggregationRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_aggregation_rows_total",
			Help: "Total number of aggregate rows written",
		},
		[]string{"kind"},
	)
)
