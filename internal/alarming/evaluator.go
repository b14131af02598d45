package alarming

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/aqi"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/protocol"
)

// AlertStore persists alerts and answers dedup lookups
type AlertStore interface {
	alerts.Lookup
	InsertAlert(ctx context.Context, a *alerts.Record) error
}

// Publisher sends encoded notifications downstream
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Result summarises the evaluation of one measurement
type Result struct {
	AQI        *aqi.Result
	Created    []alerts.Record
	Suppressed []alerts.Record
}

// Evaluator checks station measurements against user thresholds
type Evaluator struct {
	engine     *alerts.Engine
	calculator *aqi.Calculator
	thresholds ThresholdSource
	store      AlertStore
	cache      *RecentAlertCache
	publisher  Publisher
	log        zerolog.Logger
}

// NewEvaluator creates a new evaluator. cache and publisher may be nil.
func NewEvaluator(engine *alerts.Engine, thresholds ThresholdSource, store AlertStore, cache *RecentAlertCache, publisher Publisher) *Evaluator {
	return &Evaluator{
		engine:     engine,
		calculator: aqi.NewCalculator(),
		thresholds: thresholds,
		store:      store,
		cache:      cache,
		publisher:  publisher,
		log:        logger.WithComponent("evaluator"),
	}
}

// EvaluateMeasurement computes the index of a measurement and raises an
// alert for every threshold it breaches. A failing threshold does not
// stop the others; the last failure is returned.
func (e *Evaluator) EvaluateMeasurement(ctx context.Context, msg *protocol.StationMeasurement) (*Result, error) {
	parsed, err := msg.Data.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse measurement: %w", err)
	}

	log := e.log.With().Int64("station_id", msg.StationID).Logger()
	res := &Result{}
	readings := parsed.Readings()

	index, err := e.calculator.Compute(readings)
	switch {
	case errors.Is(err, aqi.ErrNoData):
		metrics.AQINoDataTotal.Inc()
		log.Debug().Msg("measurement has no scored pollutant")
	case err != nil:
		return nil, fmt.Errorf("failed to compute AQI: %w", err)
	default:
		res.AQI = &index
		metrics.AQIIndex.Observe(float64(index.Index))
		metrics.AQICategoryTotal.WithLabelValues(index.Category.String()).Inc()
		log.Debug().
			Int("aqi", index.Index).
			Str("dominant", string(index.Dominant)).
			Str("category", index.Category.Label()).
			Msg("computed AQI")
	}

	thresholds, err := e.thresholds.ActiveThresholds(ctx, msg.StationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get thresholds: %w", err)
	}

	var lastErr error
	for _, th := range thresholds {
		if !th.AppliesTo(msg.StationID) {
			continue
		}

		metric, value, ok := e.valueFor(readings, res.AQI, th.Pollutant)
		if !ok {
			continue
		}

		stationID := msg.StationID
		req := alerts.Request{
			UserID:        th.UserID,
			StationID:     &stationID,
			StationName:   msg.StationName,
			Pollutant:     metric,
			MeasuredValue: value,
			Threshold:     th.Value,
		}

		if err := e.evaluateThreshold(ctx, req, res); err != nil {
			metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).
				Int64("user_id", th.UserID).
				Str("pollutant", metric).
				Msg("failed to evaluate threshold")
			lastErr = err
		}
	}

	return res, lastErr
}

func (e *Evaluator) evaluateThreshold(ctx context.Context, req alerts.Request, res *Result) error {
	dec, err := e.engine.Evaluate(ctx, req, e.lookup())
	if err != nil {
		return err
	}
	metrics.AlertEvaluationsTotal.WithLabelValues(dec.Outcome.String()).Inc()

	switch dec.Outcome {
	case alerts.OutcomeCreated:
		if err := e.raise(ctx, dec.Alert, res.AQI); err != nil {
			return err
		}
		res.Created = append(res.Created, *dec.Alert)

	case alerts.OutcomeSuppressed:
		e.log.Debug().
			Int64("user_id", req.UserID).
			Str("pollutant", req.Pollutant).
			Int64("alert_id", dec.Alert.ID).
			Msg("similar alert already raised, skipping duplicate")
		res.Suppressed = append(res.Suppressed, *dec.Alert)
	}

	return nil
}

// raise stores a new alert, caches it for dedup and publishes it
func (e *Evaluator) raise(ctx context.Context, a *alerts.Record, index *aqi.Result) error {
	if err := e.store.InsertAlert(ctx, a); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(a.Severity.String(), a.Pollutant).Inc()
	e.log.Info().
		Int64("alert_id", a.ID).
		Int64("user_id", a.UserID).
		Str("pollutant", a.Pollutant).
		Str("severity", a.Severity.String()).
		Float64("value", a.MeasuredValue).
		Float64("threshold", a.Threshold).
		Msg("alert raised")

	if e.cache != nil {
		if err := e.cache.Remember(ctx, *a); err != nil {
			e.log.Warn().Err(err).Int64("alert_id", a.ID).Msg("failed to cache alert")
		}
	}

	if e.publisher == nil {
		return nil
	}
	return e.sendNotification(ctx, protocol.NewAlertNotification(*a, index))
}

func (e *Evaluator) sendNotification(ctx context.Context, n *protocol.AlertNotification) error {
	data, err := protocol.EncodeAlertNotification(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := e.publisher.Publish(ctx, n.Key(), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (e *Evaluator) lookup() alerts.Lookup {
	if e.cache != nil {
		return e.cache.Lookup(e.store)
	}
	return e.store
}

// valueFor extracts the measured value a threshold applies to
func (e *Evaluator) valueFor(readings aqi.Readings, index *aqi.Result, name string) (string, float64, bool) {
	metric, err := NormalizeMetric(name)
	if err != nil {
		e.log.Warn().Str("pollutant", name).Msg("threshold for unknown pollutant ignored")
		return "", 0, false
	}

	if metric == alerts.AQIMetric {
		if index == nil {
			return "", 0, false
		}
		return metric, float64(index.Index), true
	}

	v, ok := readings[aqi.Pollutant(metric)]
	return metric, v, ok
}
