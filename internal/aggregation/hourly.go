package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arequipa/aire-server/internal/aqi"
	"github.com/arequipa/aire-server/internal/database"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
)

// HourlyStore reads raw averages and stores station-hours
type HourlyStore interface {
	HourlyAverages(ctx context.Context, start, end time.Time) ([]database.HourlyAverage, error)
	UpsertHourlyAQI(ctx context.Context, h *database.HourlyAQI) error
}

// HourlyAggregator averages each station's measurements over an hour and
// scores the averages
type HourlyAggregator struct {
	store HourlyStore
	calc  *aqi.Calculator
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(store HourlyStore) *HourlyAggregator {
	return &HourlyAggregator{store: store, calc: aqi.NewCalculator()}
}

// Aggregate stores the station-hours of the hour containing target and
// returns how many were written
func (h *HourlyAggregator) Aggregate(ctx context.Context, target time.Time) (int, error) {
	start := target.Truncate(time.Hour)
	end := start.Add(time.Hour)
	log := logger.WithComponent("hourly-aggregator")

	averages, err := h.store.HourlyAverages(ctx, start, end)
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("hourly", "failed").Inc()
		return 0, fmt.Errorf("failed to read hourly averages: %w", err)
	}

	written := 0
	for _, avg := range averages {
		row, err := h.score(avg)
		if err != nil {
			log.Warn().Err(err).Int64("station_id", avg.StationID).Msg("skipping station-hour")
			continue
		}
		if err := h.store.UpsertHourlyAQI(ctx, row); err != nil {
			metrics.AggregationRunsTotal.WithLabelValues("hourly", "failed").Inc()
			return written, fmt.Errorf("failed to store station %d: %w", avg.StationID, err)
		}
		written++
	}

	metrics.AggregationRunsTotal.WithLabelValues("hourly", "success").Inc()
	metrics.AggregationRowsTotal.WithLabelValues("hourly").Add(float64(written))
	log.Info().
		Time("hour", start).
		Int("stations", written).
		Msg("hourly aggregation completed")
	return written, nil
}

func (h *HourlyAggregator) score(avg database.HourlyAverage) (*database.HourlyAQI, error) {
	row := &database.HourlyAQI{HourlyAverage: avg}

	readings := aqi.ReadingsFrom(avg.PM25, avg.PM10, avg.NO2, avg.O3, avg.CO, nil)
	result, err := h.calc.Compute(readings)
	if errors.Is(err, aqi.ErrNoData) {
		return row, nil
	}
	if err != nil {
		return nil, err
	}

	index := result.Index
	label := result.Category.Label()
	dominant := string(result.Dominant)
	row.AQI = &index
	row.AQICategory = &label
	row.DominantPollutant = &dominant
	return row, nil
}

// AggregatePreviousHour aggregates the last full hour before now
func (h *HourlyAggregator) AggregatePreviousHour(ctx context.Context, now time.Time) (int, error) {
	return h.Aggregate(ctx, now.Add(-time.Hour))
}

// NextHourlyRun returns the next time delay past the hour, after now
func NextHourlyRun(now time.Time, delay time.Duration) time.Time {
	next := now.Truncate(time.Hour).Add(delay)
	for !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}
